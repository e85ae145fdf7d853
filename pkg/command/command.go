package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"bilisub/pkg/chat"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/schedule"
	"bilisub/pkg/store"
	"bilisub/pkg/supervisor"
)

// DefaultPrefix starts every chat command
const DefaultPrefix = "!bili"

// maxSearchResults caps replies to search
const maxSearchResults = 5

var (
	// ErrPermission is returned when an unprivileged user tries to change state
	ErrPermission = errors.New("only the broadcaster or a moderator can do that")

	// ErrUsage is returned for malformed commands
	ErrUsage = errors.New("usage: add <uid|name> | stop <uid|name> | list | sleep <HH:MM-HH:MM|clear> | at <HH:MM-HH:MM|clear> | search <keyword> | season <add|stop|list|sleep|at> ...")
)

// Subscriptions is the supervisor surface used by commands
type Subscriptions interface {
	Subscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error)
	Unsubscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error)
	List(ctx context.Context) ([]supervisor.Status, error)
}

// Searcher finds accounts by keyword
type Searcher interface {
	SearchUser(ctx context.Context, keyword string) ([]models.UserSummary, error)
}

// Schedule stores time windows
type Schedule interface {
	Set(dest string, mode schedule.Mode, spec string) error
}

// Request is one parsed command
type Request struct {
	Destination string
	User        string
	Privileged  bool
	Name        string
	Args        []string
}

// Handler executes commands
type Handler struct {
	prefix   string
	subs     Subscriptions
	search   Searcher
	schedule Schedule
	seasons  *Handler
	logger   logger.Logger
}

// NewHandler creates a Handler. An empty prefix means DefaultPrefix.
func NewHandler(prefix string, subs Subscriptions, search Searcher, sched Schedule, log logger.Logger) *Handler {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{
		prefix:   prefix,
		subs:     subs,
		search:   search,
		schedule: sched,
		logger:   log.WithField("component", "command"),
	}
}

// WithSeasons routes "season <command>" to seasons, a Handler over the
// season supervisor and its own schedule
func (h *Handler) WithSeasons(seasons *Handler) *Handler {
	h.seasons = seasons
	return h
}

// Parse splits a chat line into a Request. ok is false when the line is not
// addressed to the bot.
func (h *Handler) Parse(in chat.Incoming) (Request, bool) {
	fields := strings.Fields(in.Text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], h.prefix) {
		return Request{}, false
	}
	req := Request{
		Destination: in.Destination,
		User:        in.User,
		Privileged:  in.Privileged,
	}
	if len(fields) > 1 {
		req.Name = strings.ToLower(fields[1])
		req.Args = fields[2:]
	}
	return req, true
}

// Handle is a chat.CommandFunc: it answers lines that start with the prefix
func (h *Handler) Handle(ctx context.Context, in chat.Incoming) string {
	req, ok := h.Parse(in)
	if !ok {
		return ""
	}

	reply, err := h.Execute(ctx, req)
	if err != nil {
		h.logger.WithFields(map[string]interface{}{
			"command":     req.Name,
			"user":        req.User,
			"destination": req.Destination,
		}).WithError(err).Warn("Command failed")
		return "Error: " + err.Error()
	}
	return reply
}

// Execute runs req and returns the reply text
func (h *Handler) Execute(ctx context.Context, req Request) (string, error) {
	switch req.Name {
	case "add", "subscribe":
		return h.add(ctx, req)
	case "stop", "unsubscribe":
		return h.stop(ctx, req)
	case "list":
		return h.list(ctx, req)
	case "sleep":
		return h.window(req, schedule.ModeSleep)
	case "at":
		return h.window(req, schedule.ModeAt)
	case "search":
		return h.searchUsers(ctx, req)
	case "season":
		return h.season(ctx, req)
	case "", "help":
		return ErrUsage.Error(), nil
	}
	return "", fmt.Errorf("unknown command %q; %w", req.Name, ErrUsage)
}

func (h *Handler) season(ctx context.Context, req Request) (string, error) {
	if h.seasons == nil {
		return "", errors.New("season subscriptions are not available")
	}
	sub := req
	sub.Name, sub.Args = "", nil
	if len(req.Args) > 0 {
		sub.Name = strings.ToLower(req.Args[0])
		sub.Args = req.Args[1:]
	}
	switch sub.Name {
	case "add", "subscribe", "stop", "unsubscribe", "list", "sleep", "at":
		return h.seasons.Execute(ctx, sub)
	}
	return "", fmt.Errorf("usage: season add <season id> | stop <season id|title> | list | sleep <HH:MM-HH:MM|clear> | at <HH:MM-HH:MM|clear>")
}

func (h *Handler) add(ctx context.Context, req Request) (string, error) {
	if !req.Privileged {
		return "", ErrPermission
	}
	if len(req.Args) == 0 {
		return "", ErrUsage
	}

	uid, err := h.resolveNew(ctx, strings.Join(req.Args, " "))
	if err != nil {
		return "", err
	}

	e, err := h.subs.Subscribe(ctx, uid, req.Destination)
	if errors.Is(err, store.ErrDestinationExists) {
		return fmt.Sprintf("Already subscribed to %d", uid), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Subscribed to %s (%d)", e.Name, e.UID), nil
}

// resolveNew turns a uid or a user name into a uid via search
func (h *Handler) resolveNew(ctx context.Context, arg string) (int64, error) {
	if uid, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return uid, nil
	}
	if h.search == nil {
		return 0, fmt.Errorf("%q is not a uid", arg)
	}

	users, err := h.search.SearchUser(ctx, arg)
	if err != nil {
		return 0, fmt.Errorf("search failed: %w", err)
	}
	if len(users) == 0 {
		return 0, fmt.Errorf("no user matches %q", arg)
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, arg) {
			return u.UID, nil
		}
	}
	return users[0].UID, nil
}

func (h *Handler) stop(ctx context.Context, req Request) (string, error) {
	if !req.Privileged {
		return "", ErrPermission
	}
	if len(req.Args) == 0 {
		return "", ErrUsage
	}

	arg := strings.Join(req.Args, " ")
	uid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		uid, err = h.resolveTracked(ctx, arg)
		if err != nil {
			return "", err
		}
	}

	e, err := h.subs.Unsubscribe(ctx, uid, req.Destination)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("Not subscribed to %d", uid), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Unsubscribed from %s (%d)", e.Name, e.UID), nil
}

// resolveTracked finds a tracked entity by name
func (h *Handler) resolveTracked(ctx context.Context, name string) (int64, error) {
	statuses, err := h.subs.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range statuses {
		if strings.EqualFold(s.Name, name) {
			return s.UID, nil
		}
	}
	return 0, fmt.Errorf("not tracking anyone named %q", name)
}

func (h *Handler) list(ctx context.Context, req Request) (string, error) {
	statuses, err := h.subs.List(ctx)
	if err != nil {
		return "", err
	}

	var names []string
	for _, s := range statuses {
		if req.Destination != "" && !slices.Contains(s.Destinations, req.Destination) {
			continue
		}
		names = append(names, fmt.Sprintf("%s (%d)", s.Name, s.UID))
	}
	if len(names) == 0 {
		return "No subscriptions", nil
	}
	return "Subscriptions: " + strings.Join(names, ", "), nil
}

func (h *Handler) window(req Request, mode schedule.Mode) (string, error) {
	if !req.Privileged {
		return "", ErrPermission
	}
	if h.schedule == nil {
		return "", errors.New("schedules are not available")
	}
	if len(req.Args) != 1 {
		return "", ErrUsage
	}

	spec := req.Args[0]
	if err := h.schedule.Set(req.Destination, mode, spec); err != nil {
		return "", err
	}
	if strings.EqualFold(spec, "clear") {
		return fmt.Sprintf("Cleared %s window", mode), nil
	}
	return fmt.Sprintf("Set %s window to %s", mode, spec), nil
}

func (h *Handler) searchUsers(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "", ErrUsage
	}
	if h.search == nil {
		return "", errors.New("search is not available")
	}

	users, err := h.search.SearchUser(ctx, strings.Join(req.Args, " "))
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "No users found", nil
	}
	if len(users) > maxSearchResults {
		users = users[:maxSearchResults]
	}

	parts := make([]string, 0, len(users))
	for _, u := range users {
		parts = append(parts, fmt.Sprintf("%s (%d, %d fans)", u.Name, u.UID, u.Fans))
	}
	return strings.Join(parts, " | "), nil
}
