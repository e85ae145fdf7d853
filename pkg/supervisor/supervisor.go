package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bilisub/pkg/chat"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/store"
)

// Runner is a poller as seen by the supervisor
type Runner interface {
	Run(ctx context.Context)
}

// Resolver looks up an account's display name
type Resolver interface {
	UserInfo(ctx context.Context, uid int64) (*models.UserSummary, error)
}

// Status describes one tracked entity
type Status struct {
	UID          int64
	Name         string
	Destinations []string
	Running      bool
}

// Options wires a Supervisor
type Options struct {
	Store    store.Store
	Resolver Resolver

	// NewPoller builds the runner for uid
	NewPoller func(uid int64) Runner

	// DefaultInterval is stored on newly created entities
	DefaultInterval models.Interval

	// Label names the tracked kind in errors; defaults to "user"
	Label string

	Logger logger.Logger
	Now    func() time.Time
}

type task struct {
	runner    Runner
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}

	// prev is a cancelled poller for the same entity that may still be
	// inside a cycle
	prev *task
}

// Supervisor spawns one poller per active entity. mu guards the registry
// only; no I/O happens under it.
type Supervisor struct {
	store     store.Store
	resolver  Resolver
	newPoller func(uid int64) Runner
	interval  models.Interval
	label     string
	logger    logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[int64]*task
	wg     sync.WaitGroup
}

// New creates a Supervisor. Pollers are only spawned after Start.
func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	label := opts.Label
	if label == "" {
		label = "user"
	}
	return &Supervisor{
		store:     opts.Store,
		resolver:  opts.Resolver,
		newPoller: opts.NewPoller,
		interval:  opts.DefaultInterval,
		label:     label,
		logger:    log.WithField("component", "supervisor"),
		now:       now,
		tasks:     make(map[int64]*task),
	}
}

// Start spawns a poller for every entity that has destinations
func (s *Supervisor) Start(ctx context.Context) error {
	entities, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	started := 0
	for _, e := range entities {
		if e.Active() && s.ensure(e.UID) {
			started++
		}
	}

	logger.LogComponentStart(s.logger, "supervisor", map[string]interface{}{
		"entities": len(entities),
		"pollers":  started,
	})
	return nil
}

// Stop cancels every poller and waits for them to exit
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, t := range s.tasks {
		t.cancelled = true
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.LogComponentStop(s.logger, "supervisor", "stopped")
}

// Subscribe adds dest to uid, creating the entity when it is new, and makes
// sure a poller is running
func (s *Supervisor) Subscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error) {
	dest, err := chat.NormalizeDestination(dest)
	if err != nil {
		return nil, err
	}
	if uid <= 0 {
		return nil, fmt.Errorf("invalid uid %d", uid)
	}

	seed, err := s.seed(ctx, uid)
	if err != nil {
		return nil, err
	}

	e, err := s.store.AddDestination(ctx, seed, dest)
	if err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("Subscribed", map[string]interface{}{
		"uid":         uid,
		"name":        e.Name,
		"destination": dest,
	})
	s.ensure(uid)
	return e, nil
}

// seed returns the record to store if uid is not tracked yet
func (s *Supervisor) seed(ctx context.Context, uid int64) (*models.Entity, error) {
	existing, err := s.store.Get(ctx, uid)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := fmt.Sprintf("%d", uid)
	if s.resolver != nil {
		info, err := s.resolver.UserInfo(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s %d: %w", s.label, uid, err)
		}
		if info.Name != "" {
			name = info.Name
		}
	}
	return models.NewEntity(uid, name, s.interval, s.now()), nil
}

// Unsubscribe removes dest from uid and stops the poller once no
// destinations remain. A cycle in progress still completes.
func (s *Supervisor) Unsubscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error) {
	dest, err := chat.NormalizeDestination(dest)
	if err != nil {
		return nil, err
	}

	e, err := s.store.RemoveDestination(ctx, uid, dest)
	if err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("Unsubscribed", map[string]interface{}{
		"uid":         uid,
		"destination": dest,
		"remaining":   len(e.Destinations),
	})

	if !e.Active() {
		s.mu.Lock()
		if t, ok := s.tasks[uid]; ok && !t.cancelled {
			t.cancelled = true
			t.cancel()
		}
		s.mu.Unlock()
	}
	return e, nil
}

// List reports every stored entity and whether it has a live poller
func (s *Supervisor) List(ctx context.Context) ([]Status, error) {
	entities, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(entities))
	for _, e := range entities {
		t, ok := s.tasks[e.UID]
		out = append(out, Status{
			UID:          e.UID,
			Name:         e.Name,
			Destinations: e.Destinations,
			Running:      ok && !t.cancelled,
		})
	}
	return out, nil
}

// Running reports whether uid has a poller that was not asked to stop
func (s *Supervisor) Running(uid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[uid]
	return ok && !t.cancelled
}

// ensure spawns a poller for uid unless one is already live. It reports
// whether a poller was started.
func (s *Supervisor) ensure(uid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil || s.newPoller == nil {
		return false
	}
	old, ok := s.tasks[uid]
	if ok && !old.cancelled {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		runner: s.newPoller(uid),
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   old,
	}
	s.tasks[uid] = t

	s.wg.Add(1)
	go s.run(ctx, uid, t)
	return true
}

func (s *Supervisor) run(ctx context.Context, uid int64, t *task) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.cancel()

	// one entity never has two pollers inside a cycle at once
	if t.prev != nil {
		select {
		case <-t.prev.done:
		case <-ctx.Done():
		}
		// done must not close ahead of the predecessor, or a third task
		// waiting on this one would overlap it
		defer func(prev *task) { <-prev.done }(t.prev)
	}

	if ctx.Err() == nil {
		t.runner.Run(ctx)
	}

	s.mu.Lock()
	own := s.tasks[uid] == t
	if own {
		delete(s.tasks, uid)
	}
	recheck := own && !t.cancelled && s.ctx.Err() == nil
	s.mu.Unlock()

	// the poller saw an empty destination set; a Subscribe that raced with
	// its exit needs a fresh poller
	if recheck {
		e, err := s.store.Get(s.ctx, uid)
		if err == nil && e.Active() {
			s.ensure(uid)
		}
	}
}
