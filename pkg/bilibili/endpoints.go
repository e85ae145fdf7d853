package bilibili

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// APIBase serves account, video and search endpoints
	APIBase = "https://api.bilibili.com"

	// VCBase serves the dynamic feed
	VCBase = "https://api.vc.bilibili.com"

	// WWWBase is the public site, visited once to obtain buvid cookies
	WWWBase = "https://www.bilibili.com"

	// SpaceBase hosts user space pages
	SpaceBase = "https://space.bilibili.com"

	VideoSearchEndpoint  = "/x/space/arc/search"
	SpaceHistoryEndpoint = "/dynamic_svr/v1/dynamic_svr/space_history"
	AccountInfoEndpoint  = "/x/space/acc/info"
	UserSearchEndpoint   = "/x/web-interface/search/type"
	SeasonEndpoint       = "/pgc/view/web/season"

	// DefaultVideoPageSize is how many uploads a single poll inspects
	DefaultVideoPageSize = 30
)

// Endpoints holds the base URLs the client talks to
type Endpoints struct {
	API   string
	VC    string
	WWW   string
	Space string
}

// DefaultEndpoints returns the production base URLs
func DefaultEndpoints() Endpoints {
	return Endpoints{API: APIBase, VC: VCBase, WWW: WWWBase, Space: SpaceBase}
}

// VideosURL builds the URL listing a user's newest uploads
func (e Endpoints) VideosURL(uid int64) string {
	params := url.Values{}
	params.Set("mid", strconv.FormatInt(uid, 10))
	params.Set("pn", "1")
	params.Set("ps", strconv.Itoa(DefaultVideoPageSize))
	params.Set("order", "pubdate")
	return fmt.Sprintf("%s%s?%s", e.API, VideoSearchEndpoint, params.Encode())
}

// DynamicsURL builds the URL of a user's first page of dynamics
func (e Endpoints) DynamicsURL(uid int64) string {
	params := url.Values{}
	params.Set("host_uid", strconv.FormatInt(uid, 10))
	params.Set("offset_dynamic_id", "0")
	params.Set("need_top", "0")
	return fmt.Sprintf("%s%s?%s", e.VC, SpaceHistoryEndpoint, params.Encode())
}

// AccountURL builds the URL of a user's profile including the live room
func (e Endpoints) AccountURL(uid int64) string {
	params := url.Values{}
	params.Set("mid", strconv.FormatInt(uid, 10))
	return fmt.Sprintf("%s%s?%s", e.API, AccountInfoEndpoint, params.Encode())
}

// UserSearchURL builds the URL searching users by keyword
func (e Endpoints) UserSearchURL(keyword string) string {
	params := url.Values{}
	params.Set("search_type", "bili_user")
	params.Set("keyword", keyword)
	return fmt.Sprintf("%s%s?%s", e.API, UserSearchEndpoint, params.Encode())
}

// SeasonURL builds the URL of a bangumi or drama season with its episodes
func (e Endpoints) SeasonURL(seasonID int64) string {
	params := url.Values{}
	params.Set("season_id", strconv.FormatInt(seasonID, 10))
	return fmt.Sprintf("%s%s?%s", e.API, SeasonEndpoint, params.Encode())
}

// SpaceURL is the user's space page
func (e Endpoints) SpaceURL(uid int64) string {
	return fmt.Sprintf("%s/%d", e.Space, uid)
}
