package chat

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"bilisub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	scheme string
	sent   []string
	err    error
}

func (r *recordingTransport) Scheme() string { return r.scheme }

func (r *recordingTransport) Send(ctx context.Context, target string, msg models.Message) error {
	r.sent = append(r.sent, target+"="+msg.Text)
	return r.err
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		dest   string
		scheme string
		target string
		ok     bool
	}{
		{"twitch:#SomeChannel", "twitch", "#somechannel", true},
		{"TELEGRAM:-100123", "telegram", "-100123", true},
		{"console:main", "console", "main", true},
		{"twitch:channel", "", "", false},
		{"twitch:#", "", "", false},
		{"irc:#chan", "", "", false},
		{"nocolon", "", "", false},
		{"console:", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			scheme, target, err := ParseDestination(tt.dest)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.target, target)
		})
	}

	norm, err := NormalizeDestination(" twitch:#ABC ")
	require.NoError(t, err)
	assert.Equal(t, "twitch:#abc", norm)
}

func TestRouterDispatchesByScheme(t *testing.T) {
	tw := &recordingTransport{scheme: SchemeTwitch}
	tg := &recordingTransport{scheme: SchemeTelegram, err: errors.New("chat not found")}
	r := NewRouter(tw, tg)

	assert.Equal(t, []string{"telegram", "twitch"}, r.Schemes())

	require.NoError(t, r.Deliver(context.Background(), "twitch:#a", models.Message{Text: "hi"}))
	assert.Equal(t, []string{"#a=hi"}, tw.sent)

	assert.EqualError(t, r.Deliver(context.Background(), "telegram:1", models.Message{Text: "x"}), "chat not found")
	assert.Error(t, r.Deliver(context.Background(), "console:main", models.Message{Text: "x"}))
	assert.Error(t, r.Deliver(context.Background(), "bogus", models.Message{}))
}

func TestConsoleSend(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	err := c.Send(context.Background(), "main", models.Message{
		Text:       "up posted a new video",
		Images:     []models.Image{{URL: "https://i0.hdslb.com/a.jpg", Path: "/cache/cover/a.jpg"}, {URL: "https://i0.hdslb.com/b.jpg"}},
		MentionAll: true,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "@all")
	assert.Contains(t, out, "up posted a new video")
	assert.Contains(t, out, "/cache/cover/a.jpg")
	assert.Contains(t, out, "https://i0.hdslb.com/b.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Send(ctx, "main", models.Message{Text: "late"}), context.Canceled)
}
