package bilibili

import (
	"encoding/json"
	"fmt"

	"bilisub/pkg/models"
)

// Dynamic type tags as reported in desc.type
const (
	TypeReply   = 1
	TypePicture = 2
	TypeText    = 4
	TypeVideo   = 8
	TypeArticle = 64
	TypeMusic   = 256
	TypeEpisode = 512
	TypeDelete  = 1024
	TypeSketch  = 2048
	TypeTV      = 4099
	TypeBangumi = 4101
	TypeLive    = 4200
	TypeLiveEnd = 4308
)

type decoder func(card []byte) (models.Content, error)

var decoders map[int]decoder

func init() {
	decoders = map[int]decoder{
		TypeReply:   decodeReply,
		TypePicture: decodePicture,
		TypeText:    decodeText,
		TypeVideo:   decodeVideo,
		TypeArticle: decodeArticle,
		TypeMusic:   decodeMusic,
		TypeEpisode: decodeEpisode,
		TypeTV:      decodeEpisode,
		TypeBangumi: decodeEpisode,
		TypeSketch:  decodeSketch,
		TypeLive:    decodeLive,
		TypeDelete:  func([]byte) (models.Content, error) { return models.Deleted{}, nil },
		TypeLiveEnd: func([]byte) (models.Content, error) { return models.LiveEnded{}, nil },
	}
}

// DecodeContent turns a raw card into its typed variant. Unrecognised tags
// and cards that fail to decode yield models.Unknown rather than an error so
// the dynamic can still be acknowledged.
func DecodeContent(tag int, card string) models.Content {
	decode, ok := decoders[tag]
	if !ok {
		return models.Unknown{Tag: tag, Reason: "unsupported type"}
	}
	content, err := decode([]byte(card))
	if err != nil {
		return models.Unknown{Tag: tag, Reason: err.Error()}
	}
	return content
}

func decodeReply(card []byte) (models.Content, error) {
	var raw struct {
		Item struct {
			Content  string `json:"content"`
			OrigType int    `json:"orig_type"`
		} `json:"item"`
		Origin     string `json:"origin"`
		OriginUser struct {
			Info struct {
				Uname string `json:"uname"`
			} `json:"info"`
		} `json:"origin_user"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("reply card: %w", err)
	}

	reply := models.Reply{Text: raw.Item.Content, OriginUser: raw.OriginUser.Info.Uname}
	switch {
	case raw.Item.OrigType == TypeDelete || (raw.Origin == "" && raw.Item.OrigType == 0):
		reply.Origin = models.Deleted{}
	case raw.Item.OrigType == TypeReply:
		// reposts of reposts are not unfolded further
		reply.Origin = models.Unknown{Tag: TypeReply, Reason: "nested repost"}
	default:
		reply.Origin = DecodeContent(raw.Item.OrigType, raw.Origin)
	}
	return reply, nil
}

func decodePicture(card []byte) (models.Content, error) {
	var raw struct {
		Item struct {
			Description string `json:"description"`
			Pictures    []struct {
				Source string `json:"img_src"`
			} `json:"pictures"`
		} `json:"item"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("picture card: %w", err)
	}
	images := make([]string, 0, len(raw.Item.Pictures))
	for _, p := range raw.Item.Pictures {
		if p.Source != "" {
			images = append(images, p.Source)
		}
	}
	return models.Picture{Text: raw.Item.Description, Images: images}, nil
}

func decodeText(card []byte) (models.Content, error) {
	var raw struct {
		Item struct {
			Content string `json:"content"`
		} `json:"item"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("text card: %w", err)
	}
	return models.Text{Text: raw.Item.Content}, nil
}

func decodeVideo(card []byte) (models.Content, error) {
	var raw struct {
		AID      int64  `json:"aid"`
		BVID     string `json:"bvid"`
		Title    string `json:"title"`
		Desc     string `json:"desc"`
		Pic      string `json:"pic"`
		Duration int64  `json:"duration"`
		Dynamic  string `json:"dynamic"`
		Owner    struct {
			MID  int64  `json:"mid"`
			Name string `json:"name"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("video card: %w", err)
	}
	return models.VideoCard{
		AID:         raw.AID,
		BVID:        raw.BVID,
		Title:       raw.Title,
		Description: raw.Desc,
		Cover:       raw.Pic,
		Duration:    raw.Duration,
		Owner:       raw.Owner.Name,
		Dynamic:     raw.Dynamic,
	}, nil
}

func decodeArticle(card []byte) (models.Content, error) {
	var raw struct {
		ID        int64    `json:"id"`
		Title     string   `json:"title"`
		Summary   string   `json:"summary"`
		ImageURLs []string `json:"image_urls"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("article card: %w", err)
	}
	return models.Article{ID: raw.ID, Title: raw.Title, Summary: raw.Summary, Images: raw.ImageURLs}, nil
}

func decodeMusic(card []byte) (models.Content, error) {
	var raw struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		Cover  string `json:"cover"`
		Author string `json:"author"`
		Intro  string `json:"intro"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("music card: %w", err)
	}
	return models.Music{ID: raw.ID, Title: raw.Title, Cover: raw.Cover, Author: raw.Author, Intro: raw.Intro}, nil
}

func decodeEpisode(card []byte) (models.Content, error) {
	var raw struct {
		Season struct {
			Title string `json:"title"`
		} `json:"apiSeasonInfo"`
		IndexTitle string `json:"index_title"`
		NewDesc    string `json:"new_desc"`
		Cover      string `json:"cover"`
		URL        string `json:"url"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("episode card: %w", err)
	}
	title := raw.NewDesc
	if title == "" {
		title = raw.IndexTitle
	}
	return models.Episode{Season: raw.Season.Title, Title: title, Cover: raw.Cover, URL: raw.URL}, nil
}

func decodeSketch(card []byte) (models.Content, error) {
	var raw struct {
		Vest struct {
			Content string `json:"content"`
		} `json:"vest"`
		Sketch struct {
			Title     string `json:"title"`
			DescText  string `json:"desc_text"`
			CoverURL  string `json:"cover_url"`
			TargetURL string `json:"target_url"`
		} `json:"sketch"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("sketch card: %w", err)
	}
	text := raw.Vest.Content
	if text == "" {
		text = raw.Sketch.DescText
	}
	return models.Sketch{Title: raw.Sketch.Title, Text: text, Cover: raw.Sketch.CoverURL, URL: raw.Sketch.TargetURL}, nil
}

func decodeLive(card []byte) (models.Content, error) {
	var raw struct {
		RoomID     int64  `json:"roomid"`
		Title      string `json:"title"`
		Cover      string `json:"cover"`
		Link       string `json:"link"`
		LiveStatus int    `json:"live_status"`
	}
	if err := json.Unmarshal(card, &raw); err != nil {
		return nil, fmt.Errorf("live card: %w", err)
	}
	url := raw.Link
	if url == "" && raw.RoomID != 0 {
		url = fmt.Sprintf("https://live.bilibili.com/%d", raw.RoomID)
	}
	return models.LiveCard{RoomID: raw.RoomID, Title: raw.Title, Cover: raw.Cover, URL: url, Live: raw.LiveStatus == 1}, nil
}
