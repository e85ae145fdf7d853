package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errs "bilisub/pkg/errors"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/ratelimit"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SchemeTelegram sends through the Telegram Bot API
const SchemeTelegram = "telegram"

// telegram caps message text at 4096 characters
const telegramTextLimit = 4096

// TelegramOptions configures the Telegram transport
type TelegramOptions struct {
	Token      string
	APIBase    string
	Throttle   *ratelimit.Throttle
	HTTPClient *http.Client
	Logger     logger.Logger
}

// Telegram delivers messages with sendMessage and sendPhoto
type Telegram struct {
	token      string
	endpoint   string
	throttle   *ratelimit.Throttle
	httpClient *http.Client
	logger     logger.Logger
}

// NewTelegram creates a Telegram transport. No request is made until the
// first Send.
func NewTelegram(opts TelegramOptions) *Telegram {
	endpoint := tgbotapi.APIEndpoint
	if opts.APIBase != "" {
		endpoint = strings.TrimRight(opts.APIBase, "/") + "/bot%s/%s"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Throttle == nil {
		opts.Throttle = ratelimit.NewThrottle(20, 1)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Telegram{
		token:      opts.Token,
		endpoint:   endpoint,
		throttle:   opts.Throttle,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.WithField("component", "telegram"),
	}
}

func (t *Telegram) Scheme() string { return SchemeTelegram }

// Send posts the text first, then each image as a separate photo. chatID is
// a numeric chat id or an @channel name.
func (t *Telegram) Send(ctx context.Context, chatID string, msg models.Message) error {
	chat, err := parseChat(chatID)
	if err != nil {
		return err
	}

	text := msg.Text
	if msg.MentionAll {
		text = "@all\n" + text
	}
	if len([]rune(text)) > telegramTextLimit {
		text = string([]rune(text)[:telegramTextLimit-3]) + "..."
	}

	out := tgbotapi.MessageConfig{
		BaseChat:              chat,
		Text:                  text,
		DisableWebPagePreview: len(msg.Images) > 0,
	}
	if err := t.request(ctx, "sendMessage", out); err != nil {
		return err
	}

	for _, img := range msg.Images {
		var file tgbotapi.RequestFileData = tgbotapi.FileURL(img.URL)
		if img.Path != "" {
			file = tgbotapi.FilePath(img.Path)
		}
		photo := tgbotapi.PhotoConfig{BaseFile: tgbotapi.BaseFile{BaseChat: chat, File: file}}
		if err := t.request(ctx, "sendPhoto", photo); err != nil {
			return err
		}
	}
	return nil
}

// request sends c with a bot bound to ctx. The bot is built per call so no
// getMe round trip is needed and cancellation reaches the HTTP request.
func (t *Telegram) request(ctx context.Context, method string, c tgbotapi.Chattable) error {
	if err := t.throttle.Wait(ctx); err != nil {
		return err
	}

	bot := &tgbotapi.BotAPI{Token: t.token, Client: ctxClient{ctx: ctx, client: t.httpClient}}
	bot.SetAPIEndpoint(t.endpoint)

	resp, err := bot.Request(c)
	if resp != nil && !resp.Ok {
		return &errs.APIError{Endpoint: "telegram " + method, Code: resp.ErrorCode, Message: resp.Description}
	}
	if err != nil {
		// the request URL carries the bot token, keep it out of logs
		return errs.Classify("telegram "+method, unwrapURLError(err))
	}

	t.logger.DebugWithFields("Telegram call succeeded", map[string]interface{}{"method": method})
	return nil
}

func parseChat(chatID string) (tgbotapi.BaseChat, error) {
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.BaseChat{ChannelUsername: chatID}, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return tgbotapi.BaseChat{}, fmt.Errorf("invalid telegram chat %q", chatID)
	}
	return tgbotapi.BaseChat{ChatID: id}, nil
}

// ctxClient attaches a context to every request the bot makes
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// request URL
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
