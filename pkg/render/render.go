package render

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"bilisub/pkg/config"
	errs "bilisub/pkg/errors"
	"bilisub/pkg/models"

	"github.com/microcosm-cc/bluemonday"
)

// Template kinds
const (
	KindVideo   = "video"
	KindLive    = "live"
	KindDynamic = "dynamic"
	KindEpisode = "episode"
)

// Default templates used when the configuration leaves one empty
const (
	DefaultVideoTemplate   = "{author} posted a new video\n{title}\nPublished: {time}\nLength: {duration}\n{link}"
	DefaultLiveTemplate    = "{author} is live!\n{title}\nPopularity: {online}\n{link}"
	DefaultDynamicTemplate = "@{author} has a new dynamic\nTime: {time}\n{link}"
	DefaultEpisodeTemplate = "{season} updated\n{title}\nPublished: {time}\n{link}"
)

const timeLayout = "2006-01-02 15:04:05"

var videoSlots = map[string]slotFunc{
	"author":      func(r *Renderer, it models.FeedItem) string { return it.Video.Author },
	"uid":         func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Video.AuthorID, 10) },
	"title":       func(r *Renderer, it models.FeedItem) string { return r.clean(it.Video.Title) },
	"description": func(r *Renderer, it models.FeedItem) string { return r.clean(it.Video.Description) },
	"time":        func(r *Renderer, it models.FeedItem) string { return r.formatTime(it.Video.Created) },
	"duration":    func(r *Renderer, it models.FeedItem) string { return it.Video.Length },
	"bvid":        func(r *Renderer, it models.FeedItem) string { return it.Video.BVID },
	"link":        func(r *Renderer, it models.FeedItem) string { return it.Video.Link() },
}

var liveSlots = map[string]slotFunc{
	"author": func(r *Renderer, it models.FeedItem) string { return it.Live.Name },
	"uid":    func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Live.UID, 10) },
	"title":  func(r *Renderer, it models.FeedItem) string { return r.clean(it.Live.Title) },
	"online": func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Live.Online, 10) },
	"room":   func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Live.RoomID, 10) },
	"link":   func(r *Renderer, it models.FeedItem) string { return it.Live.URL },
}

var dynamicSlots = map[string]slotFunc{
	"author": func(r *Renderer, it models.FeedItem) string { return it.Dynamic.Author },
	"uid":    func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Dynamic.UID, 10) },
	"id":     func(r *Renderer, it models.FeedItem) string { return it.Dynamic.ID },
	"time":   func(r *Renderer, it models.FeedItem) string { return r.formatTime(it.Dynamic.Timestamp) },
	"type":   func(r *Renderer, it models.FeedItem) string { return it.Dynamic.Content.Kind().String() },
	"link":   func(r *Renderer, it models.FeedItem) string { return it.Dynamic.Link() },
}

var episodeSlots = map[string]slotFunc{
	"season":     func(r *Renderer, it models.FeedItem) string { return r.clean(it.Episode.Season) },
	"season_id":  func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Episode.SeasonID, 10) },
	"title":      func(r *Renderer, it models.FeedItem) string { return r.episodeTitle(it.Episode) },
	"index":      func(r *Renderer, it models.FeedItem) string { return r.clean(it.Episode.Title) },
	"long_title": func(r *Renderer, it models.FeedItem) string { return r.clean(it.Episode.LongTitle) },
	"time":       func(r *Renderer, it models.FeedItem) string { return r.formatTime(it.Episode.Published) },
	"id":         func(r *Renderer, it models.FeedItem) string { return strconv.FormatInt(it.Episode.ID, 10) },
	"link":       func(r *Renderer, it models.FeedItem) string { return it.Episode.Link() },
}

// Options tunes rendering
type Options struct {
	// ImageLimit caps attached images; the rest become "image[n] omitted"
	ImageLimit int

	// Location is used for {time}; nil means time.Local
	Location *time.Location
}

// Renderer turns feed items into messages. It is pure: it never touches the
// network or the filesystem.
type Renderer struct {
	video   *Template
	live    *Template
	dynamic *Template
	episode *Template

	imageLimit int
	loc        *time.Location
	policy     *bluemonday.Policy
}

// New parses the configured templates, failing on any unknown slot
func New(cfg config.TemplateConfig, opts Options) (*Renderer, error) {
	r := &Renderer{
		imageLimit: opts.ImageLimit,
		loc:        opts.Location,
		policy:     bluemonday.StrictPolicy(),
	}
	if r.loc == nil {
		r.loc = time.Local
	}

	var parseErrs []error
	parse := func(kind, raw, fallback string, slots map[string]slotFunc) *Template {
		if strings.TrimSpace(raw) == "" {
			raw = fallback
		}
		t, err := Parse(kind, raw, slots)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return t
	}
	r.video = parse(KindVideo, cfg.Video, DefaultVideoTemplate, videoSlots)
	r.live = parse(KindLive, cfg.Live, DefaultLiveTemplate, liveSlots)
	r.dynamic = parse(KindDynamic, cfg.Dynamic, DefaultDynamicTemplate, dynamicSlots)
	r.episode = parse(KindEpisode, cfg.Episode, DefaultEpisodeTemplate, episodeSlots)

	if err := errors.Join(parseErrs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Render builds the complete message for item: header, body and images
func (r *Renderer) Render(item models.FeedItem) (models.Message, error) {
	header, err := r.Header(item)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{Text: header}
	switch {
	case item.Video != nil:
		r.attach(&msg, []string{item.Video.Cover})
	case item.Live != nil:
		r.attach(&msg, []string{item.Live.Cover})
	case item.Episode != nil:
		r.attach(&msg, []string{item.Episode.Cover})
	case item.Dynamic != nil:
		body, images := r.body(item.Dynamic.Content)
		if body != "" {
			msg.AppendLine(body)
		}
		r.attach(&msg, images)
	}
	return msg, nil
}

// Header renders only the template part of item. Used when a screenshot
// replaces the dynamic body.
func (r *Renderer) Header(item models.FeedItem) (string, error) {
	switch item.Feed {
	case models.FeedVideo:
		if item.Video == nil {
			return "", &errs.RenderError{Kind: KindVideo, Err: errors.New("missing video payload")}
		}
		return r.video.execute(r, item), nil
	case models.FeedLive:
		if item.Live == nil {
			return "", &errs.RenderError{Kind: KindLive, Err: errors.New("missing live payload")}
		}
		return r.live.execute(r, item), nil
	case models.FeedDynamic:
		if item.Dynamic == nil || item.Dynamic.Content == nil {
			return "", &errs.RenderError{Kind: KindDynamic, Err: errors.New("missing dynamic payload")}
		}
		return r.dynamic.execute(r, item), nil
	case models.FeedEpisode:
		if item.Episode == nil {
			return "", &errs.RenderError{Kind: KindEpisode, Err: errors.New("missing episode payload")}
		}
		return r.episode.execute(r, item), nil
	default:
		return "", &errs.RenderError{Kind: string(item.Feed), Err: errors.New("unsupported feed")}
	}
}

// BodyImages returns the images a dynamic carries in its content
func (r *Renderer) BodyImages(item models.FeedItem) []string {
	if item.Dynamic == nil || item.Dynamic.Content == nil {
		return nil
	}
	_, images := r.body(item.Dynamic.Content)
	return images
}

// RenderScreenshot builds a dynamic message whose body is a captured image.
// Picture albums still follow the screenshot.
func (r *Renderer) RenderScreenshot(item models.FeedItem, shot models.Image) (models.Message, error) {
	header, err := r.Header(item)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{Text: header, Images: []models.Image{shot}}
	if item.Dynamic != nil && item.Dynamic.Content.Kind() == models.KindPicture {
		r.attach(&msg, r.BodyImages(item))
	}
	return msg, nil
}

// Fallback is the message sent when an item cannot be rendered
func Fallback(item models.FeedItem) models.Message {
	text := fmt.Sprintf("New %s item from %s", item.Feed, item.Author())
	if link := item.Link(); link != "" {
		text += "\n" + link
	}
	return models.Message{Text: text}
}

// body renders the per-kind text of a dynamic and the images it carries
func (r *Renderer) body(c models.Content) (string, []string) {
	switch v := c.(type) {
	case models.Reply:
		originBody, images := r.body(v.Origin)
		return joinLines(r.clean(v.Text), fmt.Sprintf("// @%s:", v.OriginUser), originBody), images
	case models.Picture:
		return r.clean(v.Text), v.Images
	case models.Text:
		return r.clean(v.Text), nil
	case models.VideoCard:
		return joinLines(r.clean(v.Dynamic), r.clean(v.Title), r.clean(v.Description)), nonEmpty(v.Cover)
	case models.Article:
		return joinLines(r.clean(v.Title), r.clean(v.Summary), v.Link()), v.Images
	case models.Music:
		return joinLines(fmt.Sprintf("%s - %s", r.clean(v.Title), v.Author), r.clean(v.Intro), v.Link()), nonEmpty(v.Cover)
	case models.Episode:
		return joinLines(fmt.Sprintf("%s %s", v.Season, r.clean(v.Title)), v.URL), nonEmpty(v.Cover)
	case models.Sketch:
		return joinLines(r.clean(v.Text), r.clean(v.Title), v.URL), nonEmpty(v.Cover)
	case models.LiveCard:
		return joinLines(r.clean(v.Title), v.URL), nonEmpty(v.Cover)
	case models.Deleted:
		return "source dynamic deleted", nil
	case models.LiveEnded:
		return "live ended", nil
	case models.Unknown:
		return fmt.Sprintf("unsupported dynamic type %d", v.Tag), nil
	default:
		return "", nil
	}
}

// attach adds up to imageLimit images; the rest are listed as omitted
func (r *Renderer) attach(msg *models.Message, urls []string) {
	n := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		n++
		if r.imageLimit > 0 && n > r.imageLimit {
			msg.AppendLine(fmt.Sprintf("image[%d] omitted", n))
			continue
		}
		msg.Images = append(msg.Images, models.Image{URL: u})
	}
}

// clean strips markup from user supplied text
func (r *Renderer) clean(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

// episodeTitle joins the index ("12") and the long title, either may be empty
func (r *Renderer) episodeTitle(e *models.SeasonEpisode) string {
	return strings.TrimSpace(r.clean(e.Title) + " " + r.clean(e.LongTitle))
}

func (r *Renderer) formatTime(unix int64) string {
	return time.Unix(unix, 0).In(r.loc).Format(timeLayout)
}

func joinLines(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
