package models

import (
	"fmt"
	"time"
)

// Feed names one of the polled feeds. Accounts have video, dynamic and
// live feeds; a season has only its episode feed.
type Feed string

const (
	FeedVideo   Feed = "video"
	FeedDynamic Feed = "dynamic"
	FeedLive    Feed = "live"
	FeedEpisode Feed = "episode"
)

// FeedItem is one immutable value fetched from the platform. Exactly one of
// Video, Dynamic, Live or Episode is set, matching Feed.
type FeedItem struct {
	Feed      Feed
	ID        string
	Timestamp int64

	Video   *Video
	Dynamic *Dynamic
	Live    *LiveRoom
	Episode *SeasonEpisode
}

// Time returns Timestamp as a time.Time
func (f FeedItem) Time() time.Time {
	return time.Unix(f.Timestamp, 0)
}

// Link returns the public URL of the item
func (f FeedItem) Link() string {
	switch {
	case f.Video != nil:
		return f.Video.Link()
	case f.Dynamic != nil:
		return f.Dynamic.Link()
	case f.Live != nil:
		return f.Live.URL
	case f.Episode != nil:
		return f.Episode.Link()
	}
	return ""
}

// Author returns the display name of the account that produced the item
func (f FeedItem) Author() string {
	switch {
	case f.Video != nil:
		return f.Video.Author
	case f.Dynamic != nil:
		return f.Dynamic.Author
	case f.Live != nil:
		return f.Live.Name
	case f.Episode != nil:
		return f.Episode.Season
	}
	return ""
}

// Video is an uploaded video
type Video struct {
	AID         int64
	BVID        string
	Title       string
	Description string
	Author      string
	AuthorID    int64
	Created     int64
	Length      string
	Cover       string
}

// Link returns the watch page URL
func (v Video) Link() string {
	if v.BVID != "" {
		return "https://www.bilibili.com/video/" + v.BVID
	}
	return fmt.Sprintf("https://www.bilibili.com/video/av%d", v.AID)
}

// LiveRoom is the live status of an account's room
type LiveRoom struct {
	UID    int64
	Name   string
	RoomID int64
	Live   bool
	Title  string
	Cover  string
	URL    string
	Online int64
}

// Dynamic is one feed post. Content carries the decoded card.
type Dynamic struct {
	ID         string
	UID        int64
	Author     string
	AuthorFace string
	Timestamp  int64
	Type       int
	Content    Content
}

// Link returns the desktop URL of the post
func (d Dynamic) Link() string {
	return "https://t.bilibili.com/" + d.ID
}

// MobileLink returns the h5 page, which renders well in a narrow screenshot
func (d Dynamic) MobileLink() string {
	return "https://t.bilibili.com/h5/dynamic/detail/" + d.ID
}

// SeasonEpisode is one released episode of a bangumi or drama season
type SeasonEpisode struct {
	ID        int64
	SeasonID  int64
	Season    string
	Title     string
	LongTitle string
	Cover     string
	URL       string
	Published int64
}

// Link returns the play page of the episode
func (e SeasonEpisode) Link() string {
	if e.URL != "" {
		return e.URL
	}
	return fmt.Sprintf("https://www.bilibili.com/bangumi/play/ep%d", e.ID)
}

// Season is a season with its released episodes
type Season struct {
	ID       int64
	Title    string
	Cover    string
	Episodes []SeasonEpisode
}

// UserSummary is one user search hit
type UserSummary struct {
	UID       int64
	Name      string
	Sign      string
	Fans      int64
	Videos    int64
	AvatarURL string
}
