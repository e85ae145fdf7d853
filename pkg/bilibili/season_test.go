package bilibili

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	errs "bilisub/pkg/errors"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seasonBody(t *testing.T, code int, result interface{}) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"code": code, "message": "msg", "result": result})
	require.NoError(t, err)
	return string(body)
}

func seasonHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SeasonEndpoint, r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("season_id"))
		io.WriteString(w, seasonBody(t, 0, map[string]interface{}{
			"season_id": 42,
			"title":     "Show &amp; Tell",
			"cover":     "https://i0.hdslb.com/s.jpg",
			"episodes": []map[string]interface{}{
				{"id": 301, "title": "1", "long_title": "Start", "pub_time": 1000, "cover": "c1.jpg", "share_url": "https://b23.tv/ep301"},
				{"id": 302, "title": "2", "long_title": "", "pub_time": 2000, "cover": "c2.jpg"},
			},
		}))
	}
}

func TestFetchSeason(t *testing.T) {
	client := newTestClient(t, logger.NewTestLogger(), seasonHandler(t))

	season, err := client.FetchSeason(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Show & Tell", season.Title)
	require.Len(t, season.Episodes, 2)
	assert.Equal(t, models.SeasonEpisode{
		ID: 301, SeasonID: 42, Season: "Show & Tell", Title: "1", LongTitle: "Start",
		Cover: "c1.jpg", URL: "https://b23.tv/ep301", Published: 1000,
	}, season.Episodes[0])
	assert.Equal(t, "https://www.bilibili.com/bangumi/play/ep302", season.Episodes[1].Link())
}

func TestFetchSeasonAPIError(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":-404,"message":"no such season","result":null}`)
	})

	_, err := client.FetchSeason(context.Background(), 42)
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -404, apiErr.Code)
	assert.Equal(t, "season", apiErr.Endpoint)
}

func TestSeasonFeed(t *testing.T) {
	feed := NewSeasonFeed(newTestClient(t, nil, seasonHandler(t)))
	ctx := context.Background()

	items, err := feed.FetchVideos(ctx, 42)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.FeedEpisode, items[0].Feed)
	assert.Equal(t, "ep301", items[0].ID)
	assert.Equal(t, int64(1000), items[0].Timestamp)
	assert.Equal(t, int64(302), items[1].Episode.ID)
	assert.Equal(t, "Show & Tell", items[1].Author())

	dynamics, err := feed.FetchDynamics(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, dynamics)
	live, err := feed.FetchLive(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, live)

	info, err := feed.UserInfo(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Show & Tell", info.Name)
}
