package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/ratelimit"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// SchemeTwitch sends to Twitch channels over IRC
const SchemeTwitch = "twitch"

// twitch drops messages longer than 500 characters
const twitchMessageLimit = 500

// ircClient is the subset of *twitch.Client used here
type ircClient interface {
	Say(channel, text string)
	Join(channels ...string)
	Connect() error
	Disconnect() error
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnConnect(callback func())
}

// TwitchOptions configures the Twitch transport
type TwitchOptions struct {
	Username   string
	OAuthToken string
	Channels   []string
	Throttle   *ratelimit.Throttle
	Commands   CommandFunc
	Logger     logger.Logger
}

// Twitch sends messages to channels and feeds chat commands to a handler
type Twitch struct {
	client   ircClient
	throttle *ratelimit.Throttle
	commands CommandFunc
	logger   logger.Logger

	mu       sync.Mutex
	joined   map[string]bool
	channels []string
}

// NewTwitch creates a Twitch transport backed by go-twitch-irc
func NewTwitch(opts TwitchOptions) *Twitch {
	return newTwitch(twitch.NewClient(opts.Username, opts.OAuthToken), opts)
}

func newTwitch(client ircClient, opts TwitchOptions) *Twitch {
	if opts.Throttle == nil {
		opts.Throttle = ratelimit.NewThrottle(1, 1)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	t := &Twitch{
		client:   client,
		throttle: opts.Throttle,
		commands: opts.Commands,
		logger:   opts.Logger.WithField("component", "twitch"),
		joined:   make(map[string]bool),
	}
	for _, ch := range opts.Channels {
		t.channels = append(t.channels, channelName(ch))
	}
	return t
}

func (t *Twitch) Scheme() string { return SchemeTwitch }

// SetCommands installs the chat command handler. Must be called before Run.
func (t *Twitch) SetCommands(fn CommandFunc) {
	t.commands = fn
}

// Run connects and blocks until ctx is cancelled or the connection fails
func (t *Twitch) Run(ctx context.Context) error {
	t.client.OnConnect(func() {
		t.logger.InfoWithFields("Connected to Twitch chat", map[string]interface{}{
			"channels": t.channels,
		})
	})
	t.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		t.handleMessage(ctx, msg)
	})

	t.mu.Lock()
	for _, ch := range t.channels {
		t.joined[ch] = true
	}
	t.mu.Unlock()
	if len(t.channels) > 0 {
		t.client.Join(t.channels...)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.client.Disconnect()
		case <-done:
		}
	}()

	err := t.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (t *Twitch) handleMessage(ctx context.Context, msg twitch.PrivateMessage) {
	if t.commands == nil {
		return
	}

	in := Incoming{
		Destination: SchemeTwitch + ":#" + channelName(msg.Channel),
		User:        msg.User.Name,
		Text:        msg.Message,
		Privileged:  msg.User.Badges["broadcaster"] > 0 || msg.User.Badges["moderator"] > 0,
	}
	reply := t.commands(ctx, in)
	if reply == "" {
		return
	}
	if err := t.Send(ctx, "#"+msg.Channel, models.Message{Text: reply}); err != nil {
		t.logger.WithError(err).Warn("Failed to reply to command")
	}
}

// Send says msg in channel, split into as many chat lines as needed
func (t *Twitch) Send(ctx context.Context, target string, msg models.Message) error {
	channel := channelName(target)

	t.mu.Lock()
	if !t.joined[channel] {
		t.joined[channel] = true
		t.client.Join(channel)
	}
	t.mu.Unlock()

	for _, line := range twitchLines(msg) {
		if err := t.throttle.Wait(ctx); err != nil {
			return err
		}
		t.client.Say(channel, line)
	}
	return nil
}

// twitchLines flattens msg into single-line chat messages. Images go out as
// links since IRC carries text only.
func twitchLines(msg models.Message) []string {
	var parts []string
	if msg.MentionAll {
		parts = append(parts, "@all")
	}
	for _, line := range strings.Split(msg.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	for _, img := range msg.Images {
		if img.URL != "" {
			parts = append(parts, img.URL)
		}
	}
	return splitRunes(strings.Join(parts, " | "), twitchMessageLimit)
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	return append(out, string(runes))
}

func channelName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}
