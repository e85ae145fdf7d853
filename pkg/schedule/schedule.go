package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bilisub/pkg/logger"

	"gopkg.in/yaml.v3"
)

// Mode selects what a window does
type Mode string

const (
	// ModeSleep suppresses delivery inside the window
	ModeSleep Mode = "sleep"
	// ModeAt marks messages inside the window with a mention-all
	ModeAt Mode = "at"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSleep:
		return ModeSleep, nil
	case ModeAt:
		return ModeAt, nil
	}
	return "", fmt.Errorf("unknown schedule mode %q", s)
}

// Range is a time-of-day window in minutes since midnight. When Start is
// after End the window wraps past midnight.
type Range struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// ParseRange parses "HH:MM-HH:MM"
func ParseRange(s string) (Range, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if start == end {
		return Range{}, fmt.Errorf("invalid range %q: start equals end", s)
	}
	return Range{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether the time of day of t falls inside the window.
// Start is inclusive, End exclusive.
func (r Range) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if r.Start < r.End {
		return m >= r.Start && m < r.End
	}
	return m >= r.Start || m < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

// Window is one configured window for a destination
type Window struct {
	Destination string
	Mode        Mode
	Range       Range
}

type fileFormat struct {
	Version int                       `yaml:"version"`
	Windows map[string]map[Mode]Range `yaml:"windows"`
}

// Store holds windows keyed by destination and persists them as YAML
type Store struct {
	path    string
	loc     *time.Location
	mu      sync.RWMutex
	windows map[string]map[Mode]Range
	logger  logger.Logger
}

// Open loads the window file at path. A missing file yields an empty store;
// an empty path keeps the windows in memory only.
func Open(path string, loc *time.Location, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		path:    path,
		loc:     loc,
		windows: make(map[string]map[Mode]Range),
		logger:  log.WithField("component", "schedule"),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedule file: %w", err)
	}
	for dest, modes := range f.Windows {
		if len(modes) > 0 {
			s.windows[dest] = modes
		}
	}

	s.logger.DebugWithFields("Loaded schedule windows", map[string]interface{}{
		"path":         path,
		"destinations": len(s.windows),
	})
	return s, nil
}

// Set installs a window. An empty spec or "clear" removes it.
func (s *Store) Set(dest string, mode Mode, spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "clear") {
		return s.Clear(dest, mode)
	}

	r, err := ParseRange(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.windows[dest][mode]
	if s.windows[dest] == nil {
		s.windows[dest] = make(map[Mode]Range)
	}
	s.windows[dest][mode] = r

	if err := s.saveLocked(); err != nil {
		if hadPrev {
			s.windows[dest][mode] = prev
		} else {
			s.deleteLocked(dest, mode)
		}
		return err
	}
	return nil
}

// Clear removes the window for dest and mode, if any
func (s *Store) Clear(dest string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.windows[dest][mode]
	if !ok {
		return nil
	}
	s.deleteLocked(dest, mode)

	if err := s.saveLocked(); err != nil {
		if s.windows[dest] == nil {
			s.windows[dest] = make(map[Mode]Range)
		}
		s.windows[dest][mode] = prev
		return err
	}
	return nil
}

func (s *Store) deleteLocked(dest string, mode Mode) {
	delete(s.windows[dest], mode)
	if len(s.windows[dest]) == 0 {
		delete(s.windows, dest)
	}
}

// Active reports whether dest has a mode window covering now
func (s *Store) Active(dest string, mode Mode, now time.Time) bool {
	s.mu.RLock()
	r, ok := s.windows[dest][mode]
	s.mu.RUnlock()
	return ok && r.Contains(now.In(s.loc))
}

// Sleeping reports whether delivery to dest is muted at now
func (s *Store) Sleeping(dest string, now time.Time) bool {
	return s.Active(dest, ModeSleep, now)
}

// MentionAll reports whether messages to dest should mention everyone at now
func (s *Store) MentionAll(dest string, now time.Time) bool {
	return s.Active(dest, ModeAt, now)
}

// Windows lists every window sorted by destination then mode
func (s *Store) Windows() []Window {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Window
	for dest, modes := range s.windows {
		for mode, r := range modes {
			out = append(out, Window{Destination: dest, Mode: mode, Range: r})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}

// saveLocked writes the file atomically. Caller holds mu.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(fileFormat{Version: 1, Windows: s.windows})
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace schedule file: %w", err)
	}
	return nil
}
