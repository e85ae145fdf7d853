package app

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"bilisub/pkg/auth"
	"bilisub/pkg/config"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredentials struct {
	account *auth.Account
	asked   string
}

func (f *fakeCredentials) RetrieveDefault(name string) (*auth.Account, error) {
	f.asked = name
	if f.account == nil {
		return nil, auth.ErrCredentialsNotFound
	}
	return f.account, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Bilibili.CookieFile = filepath.Join(dir, "cookies.json")
	cfg.Storage.Path = filepath.Join(dir, "entities.json")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.Schedule.Path = filepath.Join(dir, "schedule.yaml")
	cfg.Schedule.SeasonPath = filepath.Join(dir, "season-schedule.yaml")
	cfg.Schedule.Timezone = "UTC"
	cfg.Metrics.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	opts.Offline = true
	if opts.Console == nil {
		opts.Console = &bytes.Buffer{}
	}
	a, err := New(context.Background(), cfg, logger.NewNopLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewConsoleOnly(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})

	assert.Equal(t, []string{"console"}, a.Router.Schemes())
	assert.Nil(t, a.Server)
	assert.NotNil(t, a.Commands)
	assert.NotNil(t, a.Supervisor)
	assert.NotNil(t, a.Seasons)
	assert.NotNil(t, a.SeasonStore)
	assert.NotNil(t, a.SeasonSchedule)
}

func TestNewWithTransportsAndServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.BotToken = "123:abc"
	cfg.Twitch.Username = "bilibot"
	cfg.Twitch.OAuthToken = "oauth:xyz"
	cfg.Metrics.Enabled = true

	a := newTestApp(t, cfg, Options{})

	assert.Equal(t, []string{"console", "telegram", "twitch"}, a.Router.Schemes())
	assert.NotNil(t, a.Server)
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Timezone = "Mars/Olympus"

	_, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{Offline: true})
	assert.ErrorContains(t, err, "invalid schedule timezone")
}

func TestNewRejectsBadTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Templates.Video = "{author} {nope}"

	_, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{Offline: true})
	assert.ErrorContains(t, err, "invalid message template")
}

func TestCredentialsInstalled(t *testing.T) {
	cfg := testConfig(t)
	creds := &fakeCredentials{account: &auth.Account{
		Name:       "main",
		SESSDATA:   "sess",
		BiliJct:    "jct",
		DedeUserID: "42",
	}}

	a := newTestApp(t, cfg, Options{Credentials: creds})

	u, err := url.Parse(a.Client.Endpoints().WWW + "/")
	require.NoError(t, err)
	names := map[string]string{}
	for _, c := range a.Client.Jar().Cookies(u) {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "sess", names["SESSDATA"])
	assert.Equal(t, "42", names["DedeUserID"])
	assert.Empty(t, creds.asked)
}

func TestMissingNamedAccountFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bilibili.Account = "ghost"
	creds := &fakeCredentials{}

	_, err := New(context.Background(), cfg, logger.NewNopLogger(), Options{Offline: true, Credentials: creds})
	assert.True(t, errors.Is(err, auth.ErrCredentialsNotFound))
	assert.Equal(t, "ghost", creds.asked)
}

func TestSubscribeThroughCommands(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})
	ctx := context.Background()

	seed := models.NewEntity(22, "alice", models.NewInterval(time.Minute, 2*time.Minute), time.Now())
	_, err := a.Store.AddDestination(ctx, seed, "console:main")
	require.NoError(t, err)

	_, err = a.Supervisor.Subscribe(ctx, 22, "console:ops")
	require.NoError(t, err)

	statuses, err := a.Supervisor.List(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.ElementsMatch(t, []string{"console:main", "console:ops"}, statuses[0].Destinations)
	// nothing polls before Run
	assert.False(t, statuses[0].Running)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
