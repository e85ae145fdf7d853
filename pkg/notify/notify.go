package notify

import (
	"context"
	"errors"
	"time"

	"bilisub/internal/downloader"
	"bilisub/pkg/chat"
	errs "bilisub/pkg/errors"
	"bilisub/pkg/imagecache"
	"bilisub/pkg/logger"
	"bilisub/pkg/metrics"
	"bilisub/pkg/models"
	"bilisub/pkg/render"
	"bilisub/pkg/screenshot"
)

// ImageFetcher resolves remote images to local files
type ImageFetcher interface {
	FetchAll(ctx context.Context, jobs []downloader.Job) []downloader.Result
}

// Schedule answers per-destination window questions
type Schedule interface {
	Sleeping(dest string, now time.Time) bool
	MentionAll(dest string, now time.Time) bool
}

// Report summarises one Notify call
type Report struct {
	ItemID    string
	Delivered int
	Skipped   int
	Failed    int
	Errors    []error
}

// Options wires a Notifier. Images, Capturer, Schedule and Metrics are optional.
type Options struct {
	Renderer  *render.Renderer
	Deliverer chat.Deliverer
	Images    ImageFetcher
	Capturer  screenshot.Capturer
	Schedule  Schedule
	Metrics   *metrics.Metrics
	Logger    logger.Logger

	// Now is the clock for schedule windows
	Now func() time.Time
}

// Notifier delivers items. It never returns delivery failures to the caller;
// they are logged and counted in the Report.
type Notifier struct {
	renderer  *render.Renderer
	deliverer chat.Deliverer
	images    ImageFetcher
	capturer  screenshot.Capturer
	schedule  Schedule
	metrics   *metrics.Metrics
	logger    logger.Logger
	now       func() time.Time
}

// New creates a Notifier
func New(opts Options) *Notifier {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	capturer := opts.Capturer
	if capturer == nil {
		capturer = screenshot.Disabled{}
	}
	return &Notifier{
		renderer:  opts.Renderer,
		deliverer: opts.Deliverer,
		images:    opts.Images,
		capturer:  capturer,
		schedule:  opts.Schedule,
		metrics:   opts.Metrics,
		logger:    log.WithField("component", "notifier"),
		now:       now,
	}
}

// Notify renders item and sends it to each of entity's destinations
func (n *Notifier) Notify(ctx context.Context, entity *models.Entity, item models.FeedItem) Report {
	report := Report{ItemID: item.ID}
	log := n.logger.WithFields(map[string]interface{}{
		"uid":     entity.UID,
		"feed":    string(item.Feed),
		"item_id": item.ID,
	})

	if item.Dynamic != nil {
		if u, ok := item.Dynamic.Content.(models.Unknown); ok {
			log.WarnWithFields("Delivering unsupported dynamic", map[string]interface{}{
				"type":   u.Tag,
				"reason": u.Reason,
			})
			n.metrics.RecordUnknownDynamic()
		}
	}

	msg := n.compose(ctx, item, log)
	n.metrics.RecordNotification(string(item.Feed))

	now := n.now()
	for _, dest := range entity.Destinations {
		if n.schedule != nil && n.schedule.Sleeping(dest, now) {
			log.DebugWithFields("Destination sleeping, skipped", map[string]interface{}{
				"destination": dest,
			})
			report.Skipped++
			n.metrics.RecordDelivery("skipped")
			continue
		}

		out := msg
		out.MentionAll = n.schedule != nil && n.schedule.MentionAll(dest, now)

		err := n.deliver(ctx, dest, out)
		logger.LogDelivery(log, dest, item.ID, err)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			n.metrics.RecordDelivery("failed")
			continue
		}
		report.Delivered++
		n.metrics.RecordDelivery("ok")
	}

	return report
}

func (n *Notifier) deliver(ctx context.Context, dest string, msg models.Message) error {
	err := n.deliverer.Deliver(ctx, dest, msg)
	if err == nil {
		return nil
	}
	var de *errs.DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &errs.DeliveryError{Destination: dest, Err: err}
}

// compose renders item, captures a screenshot for dynamics when possible,
// and resolves every image through the cache
func (n *Notifier) compose(ctx context.Context, item models.FeedItem, log logger.Logger) models.Message {
	msg, ok := n.renderScreenshot(ctx, item, log)
	if !ok {
		var err error
		msg, err = n.renderer.Render(item)
		if err != nil {
			log.WithError(err).Warn("Render failed, sending fallback")
			return render.Fallback(item)
		}
	}

	n.resolveImages(ctx, item, &msg, log)
	return msg
}

func (n *Notifier) renderScreenshot(ctx context.Context, item models.FeedItem, log logger.Logger) (models.Message, bool) {
	if item.Dynamic == nil || item.Dynamic.Content == nil {
		return models.Message{}, false
	}
	if item.Dynamic.Content.Kind() == models.KindUnknown {
		return models.Message{}, false
	}

	path, err := n.capturer.Capture(ctx, *item.Dynamic)
	if err != nil {
		if !errors.Is(err, screenshot.ErrDisabled) {
			log.WithError(err).Warn("Screenshot failed, using text body")
		}
		return models.Message{}, false
	}

	msg, err := n.renderer.RenderScreenshot(item, models.Image{URL: item.Dynamic.MobileLink(), Path: path})
	if err != nil {
		return models.Message{}, false
	}
	return msg, true
}

// resolveImages fetches images lacking a local path. Failures are replaced
// by a placeholder line.
func (n *Notifier) resolveImages(ctx context.Context, item models.FeedItem, msg *models.Message, log logger.Logger) {
	if n.images == nil || len(msg.Images) == 0 {
		return
	}

	kind := imagecache.KindPicture
	if item.Feed != models.FeedDynamic {
		kind = imagecache.KindCover
	}

	var (
		jobs    []downloader.Job
		indexes []int
	)
	for i, img := range msg.Images {
		if img.Path != "" {
			continue
		}
		jobs = append(jobs, downloader.Job{Kind: kind, URL: img.URL})
		indexes = append(indexes, i)
	}
	if len(jobs) == 0 {
		return
	}

	results := n.images.FetchAll(ctx, jobs)
	failed := make(map[int]bool)
	for j, res := range results {
		i := indexes[j]
		if res.Error != nil {
			log.WithError(res.Error).WithField("url", res.Job.URL).Warn("Image unavailable")
			failed[i] = true
			continue
		}
		msg.Images[i].Path = res.Path
	}
	if len(failed) == 0 {
		return
	}

	kept := msg.Images[:0]
	var missing []string
	for i, img := range msg.Images {
		if failed[i] {
			missing = append(missing, img.URL)
			continue
		}
		kept = append(kept, img)
	}
	msg.Images = kept
	for _, u := range missing {
		msg.AppendLine("[image unavailable: " + u + "]")
	}
}
