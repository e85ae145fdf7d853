package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bilisub/pkg/bilibili"
	"bilisub/pkg/chat"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBilibili serves the three feeds of one account
type mockBilibili struct {
	server   *httptest.Server
	requests atomic.Int32
	live     atomic.Bool
}

func newMockBilibili(t *testing.T) *mockBilibili {
	t.Helper()
	m := &mockBilibili{}

	mux := http.NewServeMux()
	mux.HandleFunc(bilibili.VideoSearchEndpoint, func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		m.reply(w, map[string]interface{}{
			"list": map[string]interface{}{"vlist": []map[string]interface{}{
				{"aid": 11, "bvid": "BV1new", "title": "fresh upload", "author": "up", "mid": 2, "created": 1200, "length": "03:00", "pic": m.server.URL + "/img/cover.jpg"},
				{"aid": 10, "bvid": "BV1old", "title": "old upload", "author": "up", "mid": 2, "created": 900},
			}},
		})
	})
	mux.HandleFunc(bilibili.SpaceHistoryEndpoint, func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		card, _ := json.Marshal(map[string]interface{}{
			"item": map[string]interface{}{"description": "look at this", "pictures": []map[string]string{{"img_src": m.server.URL + "/img/p.png"}}},
		})
		m.reply(w, map[string]interface{}{
			"cards": []map[string]interface{}{
				{"desc": map[string]interface{}{"dynamic_id_str": "500", "uid": 2, "type": 2, "timestamp": 1100,
					"user_profile": map[string]interface{}{"info": map[string]interface{}{"uname": "up"}}}, "card": string(card)},
				{"desc": map[string]interface{}{"dynamic_id_str": "400", "uid": 2, "type": 2, "timestamp": 800}, "card": string(card)},
			},
		})
	})
	mux.HandleFunc(bilibili.AccountInfoEndpoint, func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		status := 0
		if m.live.Load() {
			status = 1
		}
		m.reply(w, map[string]interface{}{
			"mid":  2,
			"name": "up",
			"live_room": map[string]interface{}{
				"liveStatus": status, "roomid": 77, "title": "streaming now", "url": "https://live.bilibili.com/77", "online": 1234,
			},
		})
	})
	mux.HandleFunc(bilibili.SeasonEndpoint, func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "message": "success", "result": map[string]interface{}{
			"season_id": 42,
			"title":     "Some Show",
			"episodes": []map[string]interface{}{
				{"id": 301, "title": "1", "long_title": "Pilot", "pub_time": 1000},
				{"id": 302, "title": "2", "long_title": "Second", "pub_time": 2000, "cover": m.server.URL + "/img/ep.jpg"},
			},
		}})
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "\x89PNG fake image")
	})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockBilibili) reply(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "message": "0", "data": data})
}

func (m *mockBilibili) endpoints() bilibili.Endpoints {
	return bilibili.Endpoints{API: m.server.URL, VC: m.server.URL, WWW: m.server.URL, Space: m.server.URL}
}

func TestEndToEndCycleDeliversOnce(t *testing.T) {
	mock := newMockBilibili(t)
	cfg := testConfig(t)
	cfg.Gate.MinInterval = 0

	var out bytes.Buffer
	a, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{
		Offline:   true,
		Console:   &out,
		Endpoints: mock.endpoints(),
	})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	seed := models.NewEntity(2, "up", models.NewInterval(time.Minute, 2*time.Minute), time.Unix(1000, 0))
	_, err = a.Store.AddDestination(ctx, seed, "console:main")
	require.NoError(t, err)

	p, ok := a.newPoller(2).(*poller.Poller)
	require.True(t, ok)

	result, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Videos)
	assert.Equal(t, 1, result.Dynamics)
	assert.False(t, result.WentLive)

	text := out.String()
	assert.Contains(t, text, "[main]")
	assert.Contains(t, text, "fresh upload")
	assert.Contains(t, text, "look at this")
	assert.NotContains(t, text, "old upload")

	stored, err := a.Store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), stored.VideoWatermark)
	assert.Equal(t, int64(1100), stored.DynamicWatermark)

	// a second cycle over the same feeds announces nothing new
	out.Reset()
	result, err = p.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Videos)
	assert.Zero(t, result.Dynamics)
	assert.Empty(t, out.String())

	// going live is announced once
	mock.live.Store(true)
	result, err = p.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.WentLive)
	assert.Contains(t, out.String(), "streaming now")

	out.Reset()
	result, err = p.Cycle(ctx)
	require.NoError(t, err)
	assert.False(t, result.WentLive)
	assert.False(t, strings.Contains(out.String(), "streaming now"))

	assert.GreaterOrEqual(t, mock.requests.Load(), int32(12))
}

func TestEndToEndSeasonEpisodes(t *testing.T) {
	mock := newMockBilibili(t)
	cfg := testConfig(t)
	cfg.Gate.MinInterval = 0

	var out bytes.Buffer
	a, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{
		Offline:   true,
		Console:   &out,
		Endpoints: mock.endpoints(),
	})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	seed := models.NewEntity(42, "Some Show", models.NewInterval(time.Minute, 2*time.Minute), time.Unix(1500, 0))
	_, err = a.SeasonStore.AddDestination(ctx, seed, "console:main")
	require.NoError(t, err)

	p, ok := a.newSeasonPoller(42).(*poller.Poller)
	require.True(t, ok)

	result, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Videos)
	assert.Zero(t, result.FeedErrors)
	assert.Contains(t, out.String(), "Some Show updated")
	assert.Contains(t, out.String(), "2 Second")
	assert.NotContains(t, out.String(), "Pilot")

	stored, err := a.SeasonStore.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.VideoWatermark)

	// the account store never saw the season
	_, err = a.Store.Get(ctx, 42)
	assert.Error(t, err)

	out.Reset()
	result, err = p.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Videos)
	assert.Empty(t, out.String())
}

func TestSeasonSubscribeThroughCommands(t *testing.T) {
	mock := newMockBilibili(t)
	cfg := testConfig(t)
	cfg.Gate.MinInterval = 0

	a, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{
		Offline:   true,
		Console:   &bytes.Buffer{},
		Endpoints: mock.endpoints(),
	})
	require.NoError(t, err)
	defer a.Close()

	reply := a.Commands.Handle(context.Background(), chat.Incoming{
		Destination: "console:main",
		Text:        "!bili season add 42",
		Privileged:  true,
	})
	assert.Equal(t, "Subscribed to Some Show (42)", reply)

	e, err := a.SeasonStore.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"console:main"}, e.Destinations)
}
