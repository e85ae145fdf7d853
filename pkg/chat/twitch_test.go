package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bilisub/pkg/models"
	"bilisub/pkg/ratelimit"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIRC struct {
	mu        sync.Mutex
	said      []string
	joined    []string
	onMessage func(twitch.PrivateMessage)
	onConnect func()
	stop      chan struct{}
}

func newFakeIRC() *fakeIRC {
	return &fakeIRC{stop: make(chan struct{})}
}

func (f *fakeIRC) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, channel+": "+text)
}

func (f *fakeIRC) Join(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channels...)
}

func (f *fakeIRC) Connect() error {
	if f.onConnect != nil {
		f.onConnect()
	}
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	close(f.stop)
	return nil
}

func (f *fakeIRC) OnPrivateMessage(cb func(twitch.PrivateMessage)) { f.onMessage = cb }
func (f *fakeIRC) OnConnect(cb func())                          { f.onConnect = cb }

func (f *fakeIRC) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

func unthrottled() *ratelimit.Throttle { return ratelimit.NewThrottle(0, 0) }

func TestTwitchSendFlattensMessage(t *testing.T) {
	irc := newFakeIRC()
	tw := newTwitch(irc, TwitchOptions{Throttle: unthrottled()})

	err := tw.Send(context.Background(), "#Chan", models.Message{
		Text:       "up is live!\ntitle\n\nhttps://live.bilibili.com/1",
		Images:     []models.Image{{URL: "https://i0.hdslb.com/c.jpg"}},
		MentionAll: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"chan"}, irc.joined)
	assert.Equal(t, []string{"chan: @all | up is live! | title | https://live.bilibili.com/1 | https://i0.hdslb.com/c.jpg"}, irc.lines())

	// joined once only
	require.NoError(t, tw.Send(context.Background(), "#chan", models.Message{Text: "again"}))
	assert.Len(t, irc.joined, 1)
}

func TestTwitchSplitsLongMessages(t *testing.T) {
	irc := newFakeIRC()
	tw := newTwitch(irc, TwitchOptions{Throttle: unthrottled()})

	require.NoError(t, tw.Send(context.Background(), "#chan", models.Message{Text: strings.Repeat("a", 1200)}))
	lines := irc.lines()
	require.Len(t, lines, 3)
	assert.Len(t, strings.TrimPrefix(lines[0], "chan: "), twitchMessageLimit)
}

func TestTwitchCommandsAndPrivilege(t *testing.T) {
	irc := newFakeIRC()
	var (
		mu  sync.Mutex
		got []Incoming
	)
	tw := newTwitch(irc, TwitchOptions{
		Channels: []string{"#Home"},
		Throttle: unthrottled(),
		Commands: func(ctx context.Context, in Incoming) string {
			mu.Lock()
			got = append(got, in)
			mu.Unlock()
			if strings.HasPrefix(in.Text, "!bili") {
				return "ok"
			}
			return ""
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tw.Run(ctx) }()

	require.Eventually(t, func() bool {
		irc.mu.Lock()
		defer irc.mu.Unlock()
		return len(irc.joined) == 1 && irc.onMessage != nil
	}, time.Second, 5*time.Millisecond)

	irc.onMessage(twitch.PrivateMessage{
		Channel: "home",
		Message: "!bili list",
		User:    twitch.User{Name: "mod", Badges: map[string]int{"moderator": 1}},
	})
	irc.onMessage(twitch.PrivateMessage{
		Channel: "home",
		Message: "hello",
		User:    twitch.User{Name: "viewer"},
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "twitch:#home", got[0].Destination)
	assert.True(t, got[0].Privileged)
	assert.False(t, got[1].Privileged)
	assert.Equal(t, []string{"home: ok"}, irc.lines())
}
