package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalRandomWithinBounds(t *testing.T) {
	interval := NewInterval(2*time.Second, time.Second)
	assert.Equal(t, int64(1000), interval.MinMillis)
	assert.Equal(t, int64(2000), interval.MaxMillis)

	for i := 0; i < 200; i++ {
		d := interval.Random()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
	assert.Equal(t, 2*time.Second, interval.Max())

	fixed := Interval{MinMillis: 5, MaxMillis: 5}
	assert.Equal(t, 5*time.Millisecond, fixed.Random())
	assert.True(t, Interval{}.IsZero())
}

func TestNewEntityStartsAtNow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := NewEntity(42, "someone", NewInterval(time.Minute, 2*time.Minute), now)

	assert.Equal(t, now.Unix(), e.VideoWatermark)
	assert.Equal(t, now.Unix(), e.DynamicWatermark)
	assert.False(t, e.Live)
	assert.False(t, e.Active())
}

func TestEntityDestinations(t *testing.T) {
	e := &Entity{UID: 1}

	assert.True(t, e.AddDestination("twitch:#a"))
	assert.False(t, e.AddDestination("twitch:#a"))
	assert.True(t, e.AddDestination("console:main"))
	assert.True(t, e.Active())

	assert.True(t, e.RemoveDestination("twitch:#a"))
	assert.False(t, e.RemoveDestination("twitch:#a"))
	assert.Equal(t, []string{"console:main"}, e.Destinations)
}

func TestEntityApplyIsMonotonic(t *testing.T) {
	e := &Entity{VideoWatermark: 1200, DynamicWatermark: 500, Live: true}

	e.Apply(Progress{VideoWatermark: 1000, DynamicWatermark: 600, Live: false})

	assert.Equal(t, int64(1200), e.VideoWatermark)
	assert.Equal(t, int64(600), e.DynamicWatermark)
	assert.False(t, e.Live)
}

func TestEntityCloneIsDeep(t *testing.T) {
	e := &Entity{UID: 1, Destinations: []string{"a"}}
	c := e.Clone()
	c.Destinations[0] = "b"
	assert.Equal(t, "a", e.Destinations[0])
}

func TestMessageAppendLine(t *testing.T) {
	var m Message
	m.AppendLine("first")
	m.AppendLine("second")
	assert.Equal(t, "first\nsecond", m.Text)
}

func TestFeedItemAccessors(t *testing.T) {
	item := FeedItem{Feed: FeedVideo, Video: &Video{BVID: "BV1xx", Author: "up"}}
	assert.Equal(t, "https://www.bilibili.com/video/BV1xx", item.Link())
	assert.Equal(t, "up", item.Author())

	dyn := FeedItem{Feed: FeedDynamic, Dynamic: &Dynamic{ID: "123", Author: "poster"}}
	assert.Equal(t, "https://t.bilibili.com/123", dyn.Link())
	assert.Equal(t, "https://t.bilibili.com/h5/dynamic/detail/123", dyn.Dynamic.MobileLink())
	assert.Equal(t, "https://www.bilibili.com/audio/au9", Music{ID: 9}.Link())
	assert.Equal(t, KindUnknown, Unknown{Tag: 99}.Kind())
	assert.Equal(t, "live_end", KindLiveEnd.String())
}
