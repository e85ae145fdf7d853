package bilibili

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "bilisub/pkg/errors"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/ratelimit"
	"bilisub/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRoundTripper allows us to intercept HTTP requests
type mockRoundTripper struct {
	handler func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func envelope(t *testing.T, code int, data interface{}) string {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"code": code, "message": "msg", "data": data})
	require.NoError(t, err)
	return string(body)
}

// newTestClient points every endpoint at one httptest server
func newTestClient(t *testing.T, log logger.Logger, handler http.HandlerFunc, opts ...func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o := Options{
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		Backoff:    &retry.ConstantBackoff{Delay: time.Millisecond},
		Endpoints:  Endpoints{API: srv.URL, VC: srv.URL, WWW: srv.URL, Space: srv.URL},
		Logger:     log,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewClient(o)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Options{})

	assert.NotNil(t, client.httpClient.Jar)
	assert.Equal(t, DefaultEndpoints(), client.Endpoints())
	assert.Equal(t, DefaultUserAgent, client.headers["User-Agent"])
	assert.Equal(t, 15*time.Second, client.httpClient.Timeout)
	assert.Equal(t, 1, client.retry.MaxAttempts)
}

func TestFetchVideos(t *testing.T) {
	log := logger.NewTestLogger()
	client := newTestClient(t, log, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, VideoSearchEndpoint, r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("mid"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Referer"))
		io.WriteString(w, envelope(t, 0, map[string]interface{}{
			"list": map[string]interface{}{"vlist": []map[string]interface{}{
				{"aid": 11, "bvid": "BV1xx", "title": "new", "author": "up", "mid": 2, "created": 1200, "length": "03:00", "pic": "https://i0.hdslb.com/a.jpg"},
				{"aid": 10, "title": "old", "author": "up", "mid": 2, "created": 900},
			}},
		}))
	})

	items, err := client.FetchVideos(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, models.FeedVideo, items[0].Feed)
	assert.Equal(t, "BV1xx", items[0].ID)
	assert.Equal(t, int64(1200), items[0].Timestamp)
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx", items[0].Link())
	assert.Equal(t, "av10", items[1].ID)
	assert.Equal(t, "up", items[1].Author())
}

func TestFetchDynamicsDecodesCards(t *testing.T) {
	log := logger.NewTestLogger()
	picture, _ := json.Marshal(map[string]interface{}{
		"item": map[string]interface{}{"description": "look", "pictures": []map[string]string{{"img_src": "https://i0.hdslb.com/p.png"}}},
	})
	client := newTestClient(t, log, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SpaceHistoryEndpoint, r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("host_uid"))
		io.WriteString(w, envelope(t, 0, map[string]interface{}{
			"cards": []map[string]interface{}{
				{"desc": map[string]interface{}{"dynamic_id_str": "500", "uid": 2, "type": 2, "timestamp": 1100,
					"user_profile": map[string]interface{}{"info": map[string]interface{}{"uname": "up"}}}, "card": string(picture)},
				{"desc": map[string]interface{}{"dynamic_id": 499, "uid": 2, "type": 9999, "timestamp": 1000}, "card": "{}"},
			},
		}))
	})

	items, err := client.FetchDynamics(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0].Dynamic
	require.NotNil(t, first)
	assert.Equal(t, "500", first.ID)
	assert.Equal(t, "up", first.Author)
	assert.Equal(t, models.Picture{Text: "look", Images: []string{"https://i0.hdslb.com/p.png"}}, first.Content)
	assert.Equal(t, "https://t.bilibili.com/500", items[0].Link())

	assert.Equal(t, "499", items[1].ID)
	assert.Equal(t, models.KindUnknown, items[1].Dynamic.Content.Kind())
	assert.True(t, log.HasMessage("unsupported dynamic"))
}

func TestFetchLive(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AccountInfoEndpoint, r.URL.Path)
		io.WriteString(w, envelope(t, 0, map[string]interface{}{
			"mid":  2,
			"name": "up",
			"live_room": map[string]interface{}{
				"liveStatus": 1, "roomid": 77, "title": "streaming", "url": "https://live.bilibili.com/77", "online": 1234,
			},
		}))
	})

	room, err := client.FetchLive(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, room.Live)
	assert.Equal(t, int64(77), room.RoomID)
	assert.Equal(t, "up", room.Name)
	assert.Equal(t, "https://live.bilibili.com/77", room.URL)
}

func TestAPIErrorIsNotRetried(t *testing.T) {
	var calls int32
	var outcomes []string
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, `{"code":-404,"message":"啥都木有","data":null}`)
	}, func(o *Options) {
		o.Observer = func(endpoint, outcome string) { outcomes = append(outcomes, endpoint+":"+outcome) }
	})

	_, err := client.FetchVideos(context.Background(), 2)
	require.Error(t, err)

	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -404, apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"videos:api_error"}, outcomes)
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, envelope(t, 0, map[string]interface{}{"list": map[string]interface{}{"vlist": []interface{}{}}}))
	})

	items, err := client.FetchVideos(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientErrorStatusIsNotRetryable(t *testing.T) {
	var calls int32
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.FetchLive(context.Background(), 2)
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))

	var httpErr *errs.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, errs.ErrorTypeAuth, httpErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMalformedJSON(t *testing.T) {
	log := logger.NewTestLogger()
	client := newTestClient(t, log, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>"+strings.Repeat("x", 300))
	})

	_, err := client.FetchDynamics(context.Background(), 2)
	require.Error(t, err)

	var httpErr *errs.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, errs.ErrorTypeParsing, httpErr.Type)

	msgs := log.GetMessagesByLevel("ERROR")
	require.NotEmpty(t, msgs)
	preview, _ := msgs[0].Fields["body_preview"].(string)
	assert.True(t, strings.HasSuffix(preview, "..."))
}

func TestNetworkErrorClassifiedRetryable(t *testing.T) {
	var calls int32
	client := NewClient(Options{
		MaxRetries: 1,
		Backoff:    &retry.ConstantBackoff{Delay: time.Millisecond},
	})
	client.httpClient.Transport = &mockRoundTripper{handler: func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, io.ErrUnexpectedEOF
	}}

	_, err := client.FetchVideos(context.Background(), 2)
	require.Error(t, err)

	var transportErr *errs.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.Retryable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestsPassThroughGate(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	const spacing = 30 * time.Millisecond
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		io.WriteString(w, envelope(t, 0, map[string]interface{}{"cards": []interface{}{}}))
	}, func(o *Options) {
		o.Gate = ratelimit.NewGate(spacing)
	})

	for i := 0; i < 3; i++ {
		_, err := client.FetchDynamics(context.Background(), 2)
		require.NoError(t, err)
	}

	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		// admission is stamped just before the request goes out
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), spacing-5*time.Millisecond)
	}
}

func TestSearchUserStripsHighlight(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bili_user", r.URL.Query().Get("search_type"))
		assert.Equal(t, "老番茄", r.URL.Query().Get("keyword"))
		io.WriteString(w, envelope(t, 0, map[string]interface{}{
			"result": []map[string]interface{}{
				{"mid": 546195, "uname": `<em class="keyword">老番茄</em>`, "fans": 100, "videos": 3},
			},
		}))
	})

	users, err := client.SearchUser(context.Background(), "老番茄")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "老番茄", users[0].Name)
	assert.Equal(t, int64(546195), users[0].UID)
}

func TestWarmAndCookiePersistence(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "buvid3", Value: "abc", Path: "/"})
		io.WriteString(w, "<html></html>")
	})

	require.NoError(t, client.Warm(context.Background()))
	client.SetCredentials(map[string]string{"SESSDATA": "secret"})

	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, client.SaveCookies(path))

	fresh := NewClient(Options{Endpoints: client.Endpoints()})
	n, err := fresh.LoadCookies(path)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	names := map[string]string{}
	for _, ck := range fresh.Jar().Cookies(mustParse(t, client.Endpoints().API+"/")) {
		names[ck.Name] = ck.Value
	}
	assert.Equal(t, "abc", names["buvid3"])
	assert.Equal(t, "secret", names["SESSDATA"])
}

func TestLoadCookiesMissingFile(t *testing.T) {
	client := NewClient(Options{})
	n, err := client.LoadCookies(filepath.Join(t.TempDir(), "nope.json"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
