package bilibili

import "encoding/json"

// Response is the envelope every Bilibili JSON endpoint wraps its payload in.
// A non-zero Code is an API level failure even when the HTTP status is 200.
// The pgc endpoints put the payload under result instead of data.
type Response[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Result  *T     `json:"result"`
}

// Payload returns result when present, data otherwise
func (r Response[T]) Payload() T {
	if r.Result != nil {
		return *r.Result
	}
	return r.Data
}

// VideoPage is the data of the space upload search
type VideoPage struct {
	List struct {
		VList []VideoEntry `json:"vlist"`
	} `json:"list"`
	Page struct {
		Num   int `json:"pn"`
		Size  int `json:"ps"`
		Count int `json:"count"`
	} `json:"page"`
}

// VideoEntry is one upload in a VideoPage
type VideoEntry struct {
	AID         int64  `json:"aid"`
	BVID        string `json:"bvid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	MID         int64  `json:"mid"`
	Created     int64  `json:"created"`
	Length      string `json:"length"`
	Pic         string `json:"pic"`
}

// DynamicPage is the data of the space history endpoint
type DynamicPage struct {
	Cards      []DynamicEntry `json:"cards"`
	HasMore    int            `json:"has_more"`
	NextOffset int64          `json:"next_offset"`
}

// DynamicEntry is a raw dynamic. Card is itself a JSON document whose shape
// depends on Desc.Type.
type DynamicEntry struct {
	Desc DynamicDesc `json:"desc"`
	Card string      `json:"card"`
}

// DynamicDesc is the metadata shared by every dynamic type
type DynamicDesc struct {
	DynamicID   json.Number  `json:"dynamic_id"`
	DynamicIDS  string       `json:"dynamic_id_str"`
	UID         int64        `json:"uid"`
	Type        int          `json:"type"`
	Timestamp   int64        `json:"timestamp"`
	BVID        string       `json:"bvid"`
	OrigType    int          `json:"orig_type"`
	Origin      *DynamicDesc `json:"origin"`
	UserProfile struct {
		Info struct {
			UID   int64  `json:"uid"`
			Uname string `json:"uname"`
			Face  string `json:"face"`
		} `json:"info"`
	} `json:"user_profile"`
}

// ID returns the dynamic id as a string, preferring the exact string form
func (d DynamicDesc) ID() string {
	if d.DynamicIDS != "" {
		return d.DynamicIDS
	}
	return d.DynamicID.String()
}

// AccountInfo is the data of the account info endpoint
type AccountInfo struct {
	MID      int64    `json:"mid"`
	Name     string   `json:"name"`
	Sign     string   `json:"sign"`
	Face     string   `json:"face"`
	LiveRoom LiveRoom `json:"live_room"`
}

// LiveRoom is the live_room object of AccountInfo
type LiveRoom struct {
	RoomStatus int    `json:"roomStatus"`
	LiveStatus int    `json:"liveStatus"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Cover      string `json:"cover"`
	Online     int64  `json:"online"`
	RoomID     int64  `json:"roomid"`
}

// SearchPage is the data of the typed search endpoint
type SearchPage struct {
	NumResults int         `json:"numResults"`
	Result     []UserEntry `json:"result"`
}

// UserEntry is one bili_user search hit
type UserEntry struct {
	MID    int64  `json:"mid"`
	Uname  string `json:"uname"`
	Usign  string `json:"usign"`
	Fans   int64  `json:"fans"`
	Videos int64  `json:"videos"`
	Upic   string `json:"upic"`
}

// SeasonInfo is the result of the pgc season endpoint
type SeasonInfo struct {
	SeasonID    int64          `json:"season_id"`
	Title       string         `json:"title"`
	SeasonTitle string         `json:"season_title"`
	Cover       string         `json:"cover"`
	Episodes    []EpisodeEntry `json:"episodes"`
}

// EpisodeEntry is one released episode. Title is usually the index.
type EpisodeEntry struct {
	ID        int64  `json:"id"`
	AID       int64  `json:"aid"`
	BVID      string `json:"bvid"`
	Title     string `json:"title"`
	LongTitle string `json:"long_title"`
	Cover     string `json:"cover"`
	ShareURL  string `json:"share_url"`
	PubTime   int64  `json:"pub_time"`
}
