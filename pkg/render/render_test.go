package render

import (
	"errors"
	"testing"
	"time"

	"bilisub/pkg/config"
	errs "bilisub/pkg/errors"
	"bilisub/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRenderer(t *testing.T, limit int) *Renderer {
	t.Helper()
	r, err := New(config.TemplateConfig{}, Options{ImageLimit: limit, Location: time.UTC})
	require.NoError(t, err)
	return r
}

func dynamicItem(c models.Content) models.FeedItem {
	return models.FeedItem{
		Feed:      models.FeedDynamic,
		ID:        "900",
		Timestamp: 0,
		Dynamic:   &models.Dynamic{ID: "900", UID: 2, Author: "up", Content: c},
	}
}

func TestParse(t *testing.T) {
	tmpl, err := Parse(KindLive, "{author} {not a slot} {} {link}", liveSlots)
	require.NoError(t, err)

	r := newRenderer(t, 0)
	out := tmpl.execute(r, models.FeedItem{Feed: models.FeedLive, Live: &models.LiveRoom{Name: "up", URL: "https://live.bilibili.com/1"}})
	assert.Equal(t, "up {not a slot} {} https://live.bilibili.com/1", out)
}

func TestUnknownSlot(t *testing.T) {
	_, err := New(config.TemplateConfig{Video: "{author} {views}", Live: "{nope}"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSlot)

	var slotErr *UnknownSlotError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, KindVideo, slotErr.Kind)
	assert.Equal(t, "views", slotErr.Slot)
	assert.Contains(t, err.Error(), "{nope}")
}

func TestRenderVideo(t *testing.T) {
	r := newRenderer(t, 9)
	item := models.FeedItem{
		Feed: models.FeedVideo,
		ID:   "BV1xx",
		Video: &models.Video{
			BVID: "BV1xx", Title: "Hello &amp; <b>bye</b>", Author: "up",
			Created: 1700000000, Length: "03:00", Cover: "https://i0.hdslb.com/c.jpg",
		},
	}

	msg, err := r.Render(item)
	require.NoError(t, err)
	assert.Equal(t, "up posted a new video\nHello & bye\nPublished: 2023-11-14 22:13:20\nLength: 03:00\nhttps://www.bilibili.com/video/BV1xx", msg.Text)
	assert.Equal(t, []models.Image{{URL: "https://i0.hdslb.com/c.jpg"}}, msg.Images)
}

func TestRenderLive(t *testing.T) {
	r := newRenderer(t, 9)
	msg, err := r.Render(models.FeedItem{
		Feed: models.FeedLive,
		Live: &models.LiveRoom{Name: "up", Title: "stream", Online: 42, URL: "https://live.bilibili.com/7", Cover: "c.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "up is live!\nstream\nPopularity: 42\nhttps://live.bilibili.com/7", msg.Text)
	assert.Len(t, msg.Images, 1)
}

func TestRenderEpisode(t *testing.T) {
	r := newRenderer(t, 9)
	item := models.FeedItem{
		Feed: models.FeedEpisode,
		ID:   "ep301",
		Episode: &models.SeasonEpisode{
			ID: 301, SeasonID: 42, Season: "Show", Title: "12", LongTitle: "Finale",
			Published: 1700000000, Cover: "https://i0.hdslb.com/ep.jpg",
		},
	}

	msg, err := r.Render(item)
	require.NoError(t, err)
	assert.Equal(t, "Show updated\n12 Finale\nPublished: 2023-11-14 22:13:20\nhttps://www.bilibili.com/bangumi/play/ep301", msg.Text)
	assert.Equal(t, []models.Image{{URL: "https://i0.hdslb.com/ep.jpg"}}, msg.Images)

	custom, err := New(config.TemplateConfig{Episode: "[{season_id}] {index}/{long_title} {link}"}, Options{Location: time.UTC})
	require.NoError(t, err)
	item.Episode.URL = "https://b23.tv/ep301"
	item.Episode.LongTitle = ""
	header, err := custom.Header(item)
	require.NoError(t, err)
	assert.Equal(t, "[42] 12/ https://b23.tv/ep301", header)

	_, err = r.Render(models.FeedItem{Feed: models.FeedEpisode, ID: "ep1"})
	var renderErr *errs.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, KindEpisode, renderErr.Kind)
}

func TestRenderDynamicBodies(t *testing.T) {
	r := newRenderer(t, 9)
	header := "@up has a new dynamic\nTime: 1970-01-01 00:00:00\nhttps://t.bilibili.com/900"

	tests := []struct {
		name    string
		content models.Content
		body    string
		images  int
	}{
		{"text", models.Text{Text: "hi"}, "hi", 0},
		{"picture", models.Picture{Text: "pics", Images: []string{"a", "b"}}, "pics", 2},
		{"deleted", models.Deleted{}, "source dynamic deleted", 0},
		{"live ended", models.LiveEnded{}, "live ended", 0},
		{"unknown", models.Unknown{Tag: 31}, "unsupported dynamic type 31", 0},
		{"reply", models.Reply{Text: "wow", OriginUser: "other", Origin: models.Picture{Text: "orig", Images: []string{"x"}}}, "wow\n// @other:\norig", 1},
		{"article", models.Article{ID: 5, Title: "col", Summary: "<p>sum</p>"}, "col\nsum\nhttps://www.bilibili.com/read/cv5", 0},
		{"music", models.Music{ID: 3, Title: "song", Author: "me", Cover: "c"}, "song - me\nhttps://www.bilibili.com/audio/au3", 1},
		{"episode", models.Episode{Season: "S1", Title: "ep 2", URL: "u"}, "S1 ep 2\nu", 0},
		{"video card", models.VideoCard{Dynamic: "new!", Title: "t", Cover: "c"}, "new!\nt", 1},
		{"sketch", models.Sketch{Text: "look", Title: "site", URL: "https://example.com"}, "look\nsite\nhttps://example.com", 0},
		{"live card", models.LiveCard{Title: "on", URL: "https://live.bilibili.com/1"}, "on\nhttps://live.bilibili.com/1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := r.Render(dynamicItem(tt.content))
			require.NoError(t, err)
			assert.Equal(t, header+"\n"+tt.body, msg.Text)
			assert.Len(t, msg.Images, tt.images)
		})
	}
}

func TestImageLimit(t *testing.T) {
	r := newRenderer(t, 2)
	msg, err := r.Render(dynamicItem(models.Picture{Text: "album", Images: []string{"a", "b", "c", "d"}}))
	require.NoError(t, err)

	assert.Equal(t, []models.Image{{URL: "a"}, {URL: "b"}}, msg.Images)
	assert.Contains(t, msg.Text, "album\nimage[3] omitted\nimage[4] omitted")
}

func TestHeaderAndBodyImages(t *testing.T) {
	r := newRenderer(t, 0)
	item := dynamicItem(models.Picture{Text: "album", Images: []string{"a"}})

	header, err := r.Header(item)
	require.NoError(t, err)
	assert.NotContains(t, header, "album")
	assert.Equal(t, []string{"a"}, r.BodyImages(item))
}

func TestRenderScreenshot(t *testing.T) {
	r := newRenderer(t, 2)
	shot := models.Image{URL: "https://t.bilibili.com/h5/dynamic/detail/900", Path: "/cache/screenshot/dynamic-900.png"}

	album := dynamicItem(models.Picture{Text: "album", Images: []string{"a", "b", "c"}})
	msg, err := r.RenderScreenshot(album, shot)
	require.NoError(t, err)
	assert.NotContains(t, msg.Text, "album")
	assert.Contains(t, msg.Text, "image[3] omitted")
	require.Len(t, msg.Images, 3)
	assert.Equal(t, shot, msg.Images[0])
	assert.Equal(t, "a", msg.Images[1].URL)

	text := dynamicItem(models.Text{Text: "hello"})
	msg, err = r.RenderScreenshot(text, shot)
	require.NoError(t, err)
	assert.NotContains(t, msg.Text, "hello")
	assert.Equal(t, []models.Image{shot}, msg.Images)
}

func TestRenderErrorOnMissingPayload(t *testing.T) {
	r := newRenderer(t, 0)
	_, err := r.Render(models.FeedItem{Feed: models.FeedVideo, ID: "BV1"})

	var renderErr *errs.RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, KindVideo, renderErr.Kind)
}

func TestFallback(t *testing.T) {
	msg := Fallback(models.FeedItem{Feed: models.FeedVideo, Video: &models.Video{BVID: "BV1", Author: "up"}})
	assert.Equal(t, "New video item from up\nhttps://www.bilibili.com/video/BV1", msg.Text)
}
