package bilibili

import (
	"context"
	"fmt"

	"bilisub/pkg/models"
)

// SeasonFeed presents a season as a pollable entity whose id is the season
// id. Episodes come through the video feed slot, so the poller's video
// watermark tracks the newest published episode. Seasons have no dynamics
// and no live room.
type SeasonFeed struct {
	client *Client
}

// NewSeasonFeed wraps c for season polling
func NewSeasonFeed(c *Client) *SeasonFeed {
	return &SeasonFeed{client: c}
}

// FetchVideos returns the released episodes of seasonID
func (f *SeasonFeed) FetchVideos(ctx context.Context, seasonID int64) ([]models.FeedItem, error) {
	season, err := f.client.FetchSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	items := make([]models.FeedItem, 0, len(season.Episodes))
	for i := range season.Episodes {
		ep := season.Episodes[i]
		items = append(items, models.FeedItem{
			Feed:      models.FeedEpisode,
			ID:        fmt.Sprintf("ep%d", ep.ID),
			Timestamp: ep.Published,
			Episode:   &ep,
		})
	}
	return items, nil
}

func (f *SeasonFeed) FetchDynamics(ctx context.Context, seasonID int64) ([]models.FeedItem, error) {
	return nil, nil
}

func (f *SeasonFeed) FetchLive(ctx context.Context, seasonID int64) (*models.LiveRoom, error) {
	return nil, nil
}

// UserInfo names a new season subscription after the season title
func (f *SeasonFeed) UserInfo(ctx context.Context, seasonID int64) (*models.UserSummary, error) {
	season, err := f.client.FetchSeason(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	return &models.UserSummary{UID: seasonID, Name: season.Title, AvatarURL: season.Cover}, nil
}
