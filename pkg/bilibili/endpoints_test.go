package bilibili

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestEndpointURLs(t *testing.T) {
	e := DefaultEndpoints()

	videos := mustParse(t, e.VideosURL(2))
	assert.Equal(t, "api.bilibili.com", videos.Host)
	assert.Equal(t, VideoSearchEndpoint, videos.Path)
	assert.Equal(t, "pubdate", videos.Query().Get("order"))
	assert.Equal(t, "30", videos.Query().Get("ps"))

	dynamics := mustParse(t, e.DynamicsURL(2))
	assert.Equal(t, "api.vc.bilibili.com", dynamics.Host)
	assert.Equal(t, "0", dynamics.Query().Get("offset_dynamic_id"))

	search := mustParse(t, e.UserSearchURL("a b"))
	assert.Equal(t, "a b", search.Query().Get("keyword"))

	assert.Equal(t, "https://api.bilibili.com/x/space/acc/info?mid=2", e.AccountURL(2))
	assert.Equal(t, "https://space.bilibili.com/2", e.SpaceURL(2))
}
