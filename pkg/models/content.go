package models

import "fmt"

// ContentKind tags the variant held by a dynamic's Content
type ContentKind int

const (
	KindUnknown ContentKind = iota
	KindReply
	KindPicture
	KindText
	KindVideo
	KindArticle
	KindMusic
	KindEpisode
	KindSketch
	KindLive
	KindDelete
	KindLiveEnd
)

var kindNames = map[ContentKind]string{
	KindUnknown: "unknown",
	KindReply:   "reply",
	KindPicture: "picture",
	KindText:    "text",
	KindVideo:   "video",
	KindArticle: "article",
	KindMusic:   "music",
	KindEpisode: "episode",
	KindSketch:  "sketch",
	KindLive:    "live",
	KindDelete:  "delete",
	KindLiveEnd: "live_end",
}

func (k ContentKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Content is the closed set of dynamic card variants
type Content interface {
	Kind() ContentKind
}

// Reply is a repost with commentary
type Reply struct {
	Text       string
	OriginUser string
	Origin     Content
}

// Picture is a post with an image album
type Picture struct {
	Text   string
	Images []string
}

// Text is a plain text post
type Text struct {
	Text string
}

// VideoCard is the dynamic announcing a video upload
type VideoCard struct {
	AID         int64
	BVID        string
	Title       string
	Description string
	Cover       string
	Duration    int64
	Owner       string
	Dynamic     string
}

// Article is a column article
type Article struct {
	ID      int64
	Title   string
	Summary string
	Images  []string
}

// Music is an audio upload
type Music struct {
	ID     int64
	Title  string
	Cover  string
	Author string
	Intro  string
}

// Episode covers bangumi, TV and season episodes
type Episode struct {
	Season string
	Title  string
	Cover  string
	URL    string
}

// Sketch is a shared link card
type Sketch struct {
	Title string
	Text  string
	Cover string
	URL   string
}

// LiveCard is a dynamic about a live room
type LiveCard struct {
	RoomID int64
	Title  string
	Cover  string
	URL    string
	Live   bool
}

// Deleted is a repost whose source was removed
type Deleted struct{}

// LiveEnded is the automatic post when a stream ends
type LiveEnded struct{}

// Unknown is a card whose type tag is not recognised or failed to decode
type Unknown struct {
	Tag    int
	Reason string
}

func (Reply) Kind() ContentKind     { return KindReply }
func (Picture) Kind() ContentKind   { return KindPicture }
func (Text) Kind() ContentKind      { return KindText }
func (VideoCard) Kind() ContentKind { return KindVideo }
func (Article) Kind() ContentKind   { return KindArticle }
func (Music) Kind() ContentKind     { return KindMusic }
func (Episode) Kind() ContentKind   { return KindEpisode }
func (Sketch) Kind() ContentKind    { return KindSketch }
func (LiveCard) Kind() ContentKind  { return KindLive }
func (Deleted) Kind() ContentKind   { return KindDelete }
func (LiveEnded) Kind() ContentKind { return KindLiveEnd }
func (Unknown) Kind() ContentKind   { return KindUnknown }

// Link returns the audio page URL
func (m Music) Link() string {
	return fmt.Sprintf("https://www.bilibili.com/audio/au%d", m.ID)
}

// Link returns the article page URL
func (a Article) Link() string {
	return fmt.Sprintf("https://www.bilibili.com/read/cv%d", a.ID)
}
