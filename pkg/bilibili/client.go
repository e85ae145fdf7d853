package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	errs "bilisub/pkg/errors"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/ratelimit"
	"bilisub/pkg/retry"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultUserAgent is sent when Options.UserAgent is empty
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Outcome labels passed to the request observer
const (
	OutcomeOK        = "ok"
	OutcomeAPIError  = "api_error"
	OutcomeTransport = "transport_error"
	OutcomeFatalHost = "fatal_host"
)

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int

	// Gate spaces every request, including retries. Nil means no spacing.
	Gate *ratelimit.Gate

	// Jar holds session cookies; a fresh in-memory jar is used when nil
	Jar http.CookieJar

	// Backoff between retries of a retryable transport failure
	Backoff retry.BackoffStrategy

	// Observer is told the outcome of every request attempt
	Observer func(endpoint, outcome string)

	Endpoints Endpoints
	Logger    logger.Logger
}

// Client talks to the Bilibili web API
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	endpoints  Endpoints
	gate       *ratelimit.Gate
	retry      *retry.Config
	observer   func(endpoint, outcome string)
	logger     logger.Logger
}

// NewClient creates a new Bilibili API client
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Endpoints == (Endpoints{}) {
		opts.Endpoints = DefaultEndpoints()
	}
	if opts.Gate == nil {
		opts.Gate = ratelimit.NewGate(0)
	}
	if opts.Jar == nil {
		opts.Jar, _ = cookiejar.New(nil)
	}

	retryCfg := retry.DefaultConfig(log)
	retryCfg.MaxAttempts = opts.MaxRetries + 1
	if opts.Backoff != nil {
		retryCfg.Backoff = opts.Backoff
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Jar:     opts.Jar,
		},
		headers: map[string]string{
			"User-Agent":      opts.UserAgent,
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
			"Origin":          opts.Endpoints.WWW,
			"Referer":         opts.Endpoints.WWW + "/",
		},
		endpoints: opts.Endpoints,
		gate:      opts.Gate,
		retry:     retryCfg,
		observer:  opts.Observer,
		logger:    log.WithField("component", "bilibili"),
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Jar returns the cookie jar backing the client
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Endpoints returns the base URLs in use
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		classified := errs.Classify(req.URL.Path, err)
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":    req.Method,
			"url":       req.URL.String(),
			"error":     err.Error(),
			"retryable": errs.IsRetryable(classified),
			"duration":  duration,
		})
		return nil, classified
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// checkResponseStatus maps a non-2xx status into a TransportError whose
// retryability follows the status class
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	errType := errs.TypeForStatus(resp.StatusCode)
	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
		"type":   string(errType),
	}
	retryable := errs.IsRetryableStatusCode(resp.StatusCode)
	if retryable {
		c.logger.WarnWithFields("retryable HTTP status", fields)
	} else {
		c.logger.ErrorWithFields("unexpected HTTP status", fields)
	}

	return &errs.TransportError{
		Op:        resp.Request.URL.Path,
		Retryable: retryable,
		Err: &errs.Error{
			Type:    errType,
			Message: http.StatusText(resp.StatusCode),
			Code:    resp.StatusCode,
		},
	}
}

// fetch performs one gated GET and returns the body
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &errs.TransportError{Op: url, Err: fmt.Errorf("failed to create request: %w", err)}
		}

		resp, err := c.doRequest(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := c.checkResponseStatus(resp); err != nil {
			return err
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return errs.Classify(req.URL.Path, fmt.Errorf("failed to read response body: %w", err))
		}
		return nil
	})
	return body, err
}

// getJSON fetches url, decodes the envelope and returns its data. Retryable
// transport failures are retried, each attempt passing through the gate.
func getJSON[T any](ctx context.Context, c *Client, endpoint, url string) (T, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (T, error) {
		var zero T

		body, err := c.fetch(ctx, url)
		if err != nil {
			c.observe(endpoint, err)
			return zero, err
		}

		var envelope Response[T]
		if err := json.Unmarshal(body, &envelope); err != nil {
			bodyPreview := string(body)
			if len(bodyPreview) > 200 {
				bodyPreview = bodyPreview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          url,
				"error":        err.Error(),
				"body_preview": bodyPreview,
			})
			parseErr := &errs.TransportError{
				Op: endpoint,
				Err: &errs.Error{
					Type:    errs.ErrorTypeParsing,
					Message: fmt.Sprintf("failed to parse JSON: %v", err),
				},
			}
			c.observe(endpoint, parseErr)
			return zero, parseErr
		}

		if envelope.Code != 0 {
			apiErr := &errs.APIError{Endpoint: endpoint, Code: envelope.Code, Message: envelope.Message}
			c.logger.WarnWithFields("API returned error code", map[string]interface{}{
				"endpoint": endpoint,
				"code":     envelope.Code,
				"message":  envelope.Message,
			})
			c.observe(endpoint, apiErr)
			return zero, apiErr
		}

		c.observe(endpoint, nil)
		return envelope.Payload(), nil
	}, c.retry)
}

func (c *Client) observe(endpoint string, err error) {
	if c.observer == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err == nil:
	case errs.IsFatalHost(err):
		outcome = OutcomeFatalHost
	case isAPIError(err):
		outcome = OutcomeAPIError
	default:
		outcome = OutcomeTransport
	}
	c.observer(endpoint, outcome)
}

// Warm visits the public site so the jar holds the anonymous buvid cookies
// some endpoints require
func (c *Client) Warm(ctx context.Context) error {
	_, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, c.endpoints.WWW+"/")
	}, c.retry)
	if err != nil {
		c.logger.WithError(err).Warn("failed to warm session cookies")
		return err
	}
	c.logger.Debug("session cookies warmed")
	return nil
}

// FetchVideos returns the newest uploads of uid, newest first
func (c *Client) FetchVideos(ctx context.Context, uid int64) ([]models.FeedItem, error) {
	page, err := getJSON[VideoPage](ctx, c, "videos", c.endpoints.VideosURL(uid))
	if err != nil {
		return nil, err
	}

	items := make([]models.FeedItem, 0, len(page.List.VList))
	for _, v := range page.List.VList {
		video := &models.Video{
			AID:         v.AID,
			BVID:        v.BVID,
			Title:       v.Title,
			Description: v.Description,
			Author:      v.Author,
			AuthorID:    v.MID,
			Created:     v.Created,
			Length:      v.Length,
			Cover:       v.Pic,
		}
		id := v.BVID
		if id == "" {
			id = fmt.Sprintf("av%d", v.AID)
		}
		items = append(items, models.FeedItem{
			Feed:      models.FeedVideo,
			ID:        id,
			Timestamp: v.Created,
			Video:     video,
		})
	}

	c.logger.DebugWithFields("fetched videos", map[string]interface{}{
		"uid":   uid,
		"count": len(items),
	})
	return items, nil
}

// FetchDynamics returns the first page of uid's dynamics with decoded content
func (c *Client) FetchDynamics(ctx context.Context, uid int64) ([]models.FeedItem, error) {
	page, err := getJSON[DynamicPage](ctx, c, "dynamics", c.endpoints.DynamicsURL(uid))
	if err != nil {
		return nil, err
	}

	items := make([]models.FeedItem, 0, len(page.Cards))
	for _, card := range page.Cards {
		desc := card.Desc
		content := DecodeContent(desc.Type, card.Card)
		if v, ok := content.(models.VideoCard); ok && v.BVID == "" {
			v.BVID = desc.BVID
			content = v
		}
		if u, ok := content.(models.Unknown); ok {
			c.logger.WarnWithFields("unsupported dynamic", map[string]interface{}{
				"uid":        uid,
				"dynamic_id": desc.ID(),
				"type":       u.Tag,
				"reason":     u.Reason,
			})
		}

		items = append(items, models.FeedItem{
			Feed:      models.FeedDynamic,
			ID:        desc.ID(),
			Timestamp: desc.Timestamp,
			Dynamic: &models.Dynamic{
				ID:         desc.ID(),
				UID:        desc.UID,
				Author:     desc.UserProfile.Info.Uname,
				AuthorFace: desc.UserProfile.Info.Face,
				Timestamp:  desc.Timestamp,
				Type:       desc.Type,
				Content:    content,
			},
		})
	}

	c.logger.DebugWithFields("fetched dynamics", map[string]interface{}{
		"uid":   uid,
		"count": len(items),
	})
	return items, nil
}

// FetchLive returns the live room state of uid
func (c *Client) FetchLive(ctx context.Context, uid int64) (*models.LiveRoom, error) {
	info, err := getJSON[AccountInfo](ctx, c, "live", c.endpoints.AccountURL(uid))
	if err != nil {
		return nil, err
	}
	room := info.LiveRoom
	return &models.LiveRoom{
		UID:    uid,
		Name:   info.Name,
		RoomID: room.RoomID,
		Live:   room.LiveStatus == 1,
		Title:  room.Title,
		Cover:  room.Cover,
		URL:    room.URL,
		Online: room.Online,
	}, nil
}

// UserInfo returns the profile of uid
func (c *Client) UserInfo(ctx context.Context, uid int64) (*models.UserSummary, error) {
	info, err := getJSON[AccountInfo](ctx, c, "account", c.endpoints.AccountURL(uid))
	if err != nil {
		return nil, err
	}
	return &models.UserSummary{
		UID:       info.MID,
		Name:      info.Name,
		Sign:      info.Sign,
		AvatarURL: info.Face,
	}, nil
}

// FetchSeason returns a season and its released episodes in the order the
// API lists them
func (c *Client) FetchSeason(ctx context.Context, seasonID int64) (*models.Season, error) {
	info, err := getJSON[SeasonInfo](ctx, c, "season", c.endpoints.SeasonURL(seasonID))
	if err != nil {
		return nil, err
	}

	season := &models.Season{
		ID:       seasonID,
		Title:    html.UnescapeString(info.Title),
		Cover:    info.Cover,
		Episodes: make([]models.SeasonEpisode, 0, len(info.Episodes)),
	}
	for _, ep := range info.Episodes {
		season.Episodes = append(season.Episodes, models.SeasonEpisode{
			ID:        ep.ID,
			SeasonID:  seasonID,
			Season:    season.Title,
			Title:     ep.Title,
			LongTitle: ep.LongTitle,
			Cover:     ep.Cover,
			URL:       ep.ShareURL,
			Published: ep.PubTime,
		})
	}

	c.logger.DebugWithFields("fetched season", map[string]interface{}{
		"season_id": seasonID,
		"episodes":  len(season.Episodes),
	})
	return season, nil
}

var highlightPolicy = bluemonday.StrictPolicy()

// SearchUser searches accounts by keyword
func (c *Client) SearchUser(ctx context.Context, keyword string) ([]models.UserSummary, error) {
	page, err := getJSON[SearchPage](ctx, c, "search", c.endpoints.UserSearchURL(keyword))
	if err != nil {
		return nil, err
	}

	users := make([]models.UserSummary, 0, len(page.Result))
	for _, u := range page.Result {
		users = append(users, models.UserSummary{
			UID: u.MID,
			// hits come back wrapped in <em class="keyword">
			Name:      html.UnescapeString(highlightPolicy.Sanitize(u.Uname)),
			Sign:      u.Usign,
			Fans:      u.Fans,
			Videos:    u.Videos,
			AvatarURL: u.Upic,
		})
	}
	return users, nil
}

func isAPIError(err error) bool {
	var apiErr *errs.APIError
	return errors.As(err, &apiErr)
}
