package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"bilisub/pkg/logger"
	"bilisub/pkg/metrics"
	"bilisub/pkg/models"
	"bilisub/pkg/notify"
	"bilisub/pkg/retry"
	"bilisub/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Fetcher reads the three feeds of an account
type Fetcher interface {
	FetchVideos(ctx context.Context, uid int64) ([]models.FeedItem, error)
	FetchDynamics(ctx context.Context, uid int64) ([]models.FeedItem, error)
	FetchLive(ctx context.Context, uid int64) (*models.LiveRoom, error)
}

// Notifier delivers one item to an entity's destinations
type Notifier interface {
	Notify(ctx context.Context, entity *models.Entity, item models.FeedItem) notify.Report
}

// Store is the part of the entity store a poller needs
type Store interface {
	Get(ctx context.Context, uid int64) (*models.Entity, error)
	SaveProgress(ctx context.Context, uid int64, p models.Progress) error
}

// State is the lifecycle stage of a poller
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSleeping
	StateFetchCycle
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateFetchCycle:
		return "fetch_cycle"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CycleResult describes a completed cycle
type CycleResult struct {
	CycleID    string
	Videos     int
	Dynamics   int
	Skipped    int
	WentLive   bool
	FeedErrors int
	Progress   models.Progress
	Interval   models.Interval

	// Active is false once the entity has no destinations left
	Active bool
}

// Options wires a Poller
type Options struct {
	Fetcher  Fetcher
	Notifier Notifier
	Store    Store
	Metrics  *metrics.Metrics
	Logger   logger.Logger

	// DefaultInterval applies to entities without their own interval
	DefaultInterval models.Interval

	// Sleep waits between cycles; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error

	Now func() time.Time
}

// Poller polls one entity until cancelled or unsubscribed
type Poller struct {
	uid      int64
	fetcher  Fetcher
	notifier Notifier
	store    Store
	metrics  *metrics.Metrics
	logger   logger.Logger
	interval models.Interval
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	state atomic.Int32
}

// New creates a poller for uid
func New(uid int64, opts Options) *Poller {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Wait
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Poller{
		uid:      uid,
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		store:    opts.Store,
		metrics:  opts.Metrics,
		logger:   log.WithFields(map[string]interface{}{"component": "poller", "uid": uid}),
		interval: opts.DefaultInterval,
		sleep:    sleep,
		now:      now,
	}
}

// UID returns the polled entity
func (p *Poller) UID() int64 { return p.uid }

// State returns the current lifecycle stage
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run loops until ctx is cancelled or the entity loses its last
// destination. A cycle in progress always completes.
func (p *Poller) Run(ctx context.Context) {
	p.setState(StateRunning)
	defer p.setState(StateStopped)

	p.metrics.PollerStarted()
	defer p.metrics.PollerStopped()

	interval := p.interval
	if e, err := p.store.Get(ctx, p.uid); err == nil && !e.Interval.IsZero() {
		interval = e.Interval
	}

	logger.LogComponentStart(p.logger, "poller", map[string]interface{}{
		"interval_min_ms": interval.MinMillis,
		"interval_max_ms": interval.MaxMillis,
	})

	p.setState(StateSleeping)
	if err := p.sleep(ctx, interval.Random()); err != nil {
		logger.LogComponentStop(p.logger, "poller", "cancelled")
		return
	}

	for {
		if ctx.Err() != nil {
			logger.LogComponentStop(p.logger, "poller", "cancelled")
			return
		}

		p.setState(StateFetchCycle)
		result, err := p.Cycle(ctx)

		delay := interval.Random()
		if err != nil {
			p.logger.WithError(err).Error("Cycle failed, backing off")
			delay = interval.Max()
		} else {
			if !result.Active {
				logger.LogComponentStop(p.logger, "poller", "no destinations")
				return
			}
			if !result.Interval.IsZero() {
				interval = result.Interval
				delay = interval.Random()
			}
		}

		p.setState(StateSleeping)
		if err := p.sleep(ctx, delay); err != nil {
			logger.LogComponentStop(p.logger, "poller", "cancelled")
			return
		}
	}
}

// Cycle fetches every feed, notifies new items in timestamp order and
// persists the advanced watermarks. It ignores cancellation of ctx so a
// started cycle is never cut short, but failed requests are not retried
// once ctx is done. A store failure or a panic is returned as an error and
// nothing is persisted.
func (p *Poller) Cycle(ctx context.Context) (result CycleResult, err error) {
	ctx = retry.WithStop(context.WithoutCancel(ctx), ctx.Done())
	result.CycleID = uuid.NewString()
	start := p.now()

	ctx, span := telemetry.StartSpan(ctx, "poller.cycle",
		attribute.Int64("uid", p.uid),
		attribute.String("cycle_id", result.CycleID),
	)
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorWithFields("Cycle panicked", map[string]interface{}{
				"cycle_id": result.CycleID,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			})
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		telemetry.EndSpan(span, err)

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		p.metrics.RecordCycle(outcome)
		logger.LogCycle(p.logger, logger.CycleSummary{
			UID:        p.uid,
			CycleID:    result.CycleID,
			Videos:     result.Videos,
			Dynamics:   result.Dynamics,
			Skipped:    result.Skipped,
			WentLive:   result.WentLive,
			Persisted:  err == nil,
			FeedErrors: result.FeedErrors,
			Duration:   p.now().Sub(start),
		})
	}()

	entity, err := p.store.Get(ctx, p.uid)
	if err != nil {
		return result, fmt.Errorf("failed to load entity: %w", err)
	}
	result.Interval = entity.Interval
	if !entity.Active() {
		result.Progress = entity.Progress()
		return result, nil
	}

	log := p.logger.WithField("cycle_id", result.CycleID)

	videos, verr := p.fetcher.FetchVideos(ctx, p.uid)
	if verr != nil {
		result.FeedErrors++
		log.WithError(verr).Warn("Video feed unavailable this cycle")
	}
	dynamics, derr := p.fetcher.FetchDynamics(ctx, p.uid)
	if derr != nil {
		result.FeedErrors++
		log.WithError(derr).Warn("Dynamic feed unavailable this cycle")
	}
	live, lerr := p.fetcher.FetchLive(ctx, p.uid)
	if lerr != nil {
		result.FeedErrors++
		log.WithError(lerr).Warn("Live status unavailable this cycle")
	}

	progress := entity.Progress()

	for _, item := range Newer(videos, entity.VideoWatermark) {
		p.notifier.Notify(ctx, entity, item)
		progress.VideoWatermark = max(progress.VideoWatermark, item.Timestamp)
		result.Videos++
	}

	for _, item := range Newer(dynamics, entity.DynamicWatermark) {
		progress.DynamicWatermark = max(progress.DynamicWatermark, item.Timestamp)
		if !Notable(item) {
			result.Skipped++
			continue
		}
		p.notifier.Notify(ctx, entity, item)
		result.Dynamics++
	}

	if lerr == nil && live != nil {
		if live.Live && !entity.Live {
			now := p.now()
			p.notifier.Notify(ctx, entity, models.FeedItem{
				Feed:      models.FeedLive,
				ID:        fmt.Sprintf("live-%d-%d", p.uid, now.Unix()),
				Timestamp: now.Unix(),
				Live:      live,
			})
			result.WentLive = true
		}
		progress.Live = live.Live
	}

	if err := p.store.SaveProgress(ctx, p.uid, progress); err != nil {
		return result, fmt.Errorf("failed to persist progress: %w", err)
	}
	result.Progress = progress

	after, err := p.store.Get(ctx, p.uid)
	if err != nil {
		// progress is saved; keep polling and let the next cycle retry the read
		result.Active = true
		log.WithError(err).Warn("Failed to re-read entity after cycle")
		return result, nil
	}
	result.Active = after.Active()
	result.Interval = after.Interval
	return result, nil
}

// silentKinds are dynamics that repeat another feed or carry nothing to
// read: uploads arrive on the video feed, live cards and stream endings on
// the live check
var silentKinds = map[models.ContentKind]bool{
	models.KindVideo:   true,
	models.KindLive:    true,
	models.KindLiveEnd: true,
}

// Notable reports whether item is worth a notification. Dynamics of a
// silent kind only move the watermark.
func Notable(item models.FeedItem) bool {
	if item.Feed != models.FeedDynamic || item.Dynamic == nil || item.Dynamic.Content == nil {
		return true
	}
	return !silentKinds[item.Dynamic.Content.Kind()]
}

// Newer returns the items strictly newer than watermark in ascending
// timestamp order
func Newer(items []models.FeedItem, watermark int64) []models.FeedItem {
	var out []models.FeedItem
	for _, it := range items {
		if it.Timestamp > watermark {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
