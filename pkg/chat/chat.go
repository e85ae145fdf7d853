package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bilisub/pkg/models"
)

// Deliverer sends a message to one destination
type Deliverer interface {
	Deliver(ctx context.Context, dest string, msg models.Message) error
}

// Transport is a Deliverer bound to one scheme. Target is the destination
// with the scheme stripped.
type Transport interface {
	Scheme() string
	Send(ctx context.Context, target string, msg models.Message) error
}

// Incoming is a chat message that may carry a command
type Incoming struct {
	// Destination the reply goes back to
	Destination string
	User        string
	Text        string
	// Privileged users may change subscriptions
	Privileged bool
}

// CommandFunc handles an incoming message and returns the reply text. An
// empty reply sends nothing.
type CommandFunc func(ctx context.Context, in Incoming) string

// ParseDestination splits dest into scheme and target and validates the target
func ParseDestination(dest string) (scheme, target string, err error) {
	scheme, target, ok := strings.Cut(strings.TrimSpace(dest), ":")
	if !ok || scheme == "" || target == "" {
		return "", "", fmt.Errorf("invalid destination %q: want scheme:target", dest)
	}
	scheme = strings.ToLower(scheme)

	switch scheme {
	case SchemeTwitch:
		if !strings.HasPrefix(target, "#") || len(target) < 2 {
			return "", "", fmt.Errorf("invalid twitch destination %q: want twitch:#channel", dest)
		}
		target = strings.ToLower(target)
	case SchemeTelegram:
		if strings.ContainsAny(target, " \t") {
			return "", "", fmt.Errorf("invalid telegram destination %q", dest)
		}
	case SchemeConsole:
	default:
		return "", "", fmt.Errorf("unknown destination scheme %q", scheme)
	}
	return scheme, target, nil
}

// NormalizeDestination returns the canonical form of dest
func NormalizeDestination(dest string) (string, error) {
	scheme, target, err := ParseDestination(dest)
	if err != nil {
		return "", err
	}
	return scheme + ":" + target, nil
}

// Router dispatches on the destination scheme
type Router struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRouter creates a router over the given transports
func NewRouter(transports ...Transport) *Router {
	r := &Router{transports: make(map[string]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the transport for its scheme
func (r *Router) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Scheme()] = t
}

// Schemes lists the registered schemes
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transports))
	for s := range r.transports {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Deliver implements Deliverer
func (r *Router) Deliver(ctx context.Context, dest string, msg models.Message) error {
	scheme, target, err := ParseDestination(dest)
	if err != nil {
		return err
	}

	r.mu.RLock()
	t, ok := r.transports[scheme]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no transport configured for %s", scheme)
	}
	return t.Send(ctx, target, msg)
}
