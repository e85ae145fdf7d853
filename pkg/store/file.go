package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"bilisub/pkg/logger"
	"bilisub/pkg/models"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked mutation retries the file lock
const lockRetryDelay = 20 * time.Millisecond

// fileFormat is the on-disk document
type fileFormat struct {
	Version  int              `json:"version"`
	Entities []*models.Entity `json:"entities"`
	SavedAt  time.Time        `json:"saved_at"`
}

// FileStore keeps entities in a JSON document shared by every process that
// opens the same path. Each mutation holds an exclusive lock on path.lock,
// reloads the document, applies its change and rewrites it. Reads reload
// when another process replaced the file. An empty path keeps the store in
// memory only.
type FileStore struct {
	path     string
	lock     *flock.Flock
	mu       sync.Mutex
	entities map[int64]*models.Entity
	loaded   os.FileInfo
	logger   logger.Logger
}

// OpenFile loads path, creating an empty store when it does not exist
func OpenFile(path string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &FileStore{
		path:     path,
		entities: make(map[int64]*models.Entity),
		logger:   log,
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s.lock = flock.New(path + ".lock")

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(true); err != nil {
		return nil, err
	}

	if s.loaded == nil {
		log.InfoWithFields("Starting with an empty store", map[string]interface{}{"path": path})
	} else {
		log.InfoWithFields("Store loaded", map[string]interface{}{
			"path":     path,
			"entities": len(s.entities),
		})
	}
	return s, nil
}

// NewMemory returns a FileStore that never touches disk
func NewMemory() *FileStore {
	s, _ := OpenFile("", nil)
	return s
}

func (s *FileStore) List(ctx context.Context) ([]*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(false); err != nil {
		return nil, err
	}
	out := make([]*models.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, uid int64) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(false); err != nil {
		return nil, err
	}
	e, ok := s.entities[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *FileStore) AddDestination(ctx context.Context, seed *models.Entity, dest string) (*models.Entity, error) {
	var out *models.Entity
	err := s.update(ctx, func() error {
		e, ok := s.entities[seed.UID]
		if !ok {
			e = seed.Clone()
			e.Destinations = nil
		}
		if !e.AddDestination(dest) {
			return ErrDestinationExists
		}
		e.UpdatedAt = time.Now()
		s.entities[e.UID] = e
		out = e.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) RemoveDestination(ctx context.Context, uid int64, dest string) (*models.Entity, error) {
	var out *models.Entity
	err := s.update(ctx, func() error {
		e, ok := s.entities[uid]
		if !ok || !e.RemoveDestination(dest) {
			return ErrNotFound
		}
		e.UpdatedAt = time.Now()
		out = e.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) SaveProgress(ctx context.Context, uid int64, p models.Progress) error {
	return s.update(ctx, func() error {
		e, ok := s.entities[uid]
		if !ok {
			return ErrNotFound
		}
		e.Apply(p)
		e.UpdatedAt = time.Now()
		return nil
	})
}

func (s *FileStore) Close() error { return nil }

// update runs fn against the freshest document and writes the result. fn
// returning an error leaves the document untouched.
func (s *FileStore) update(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("failed to lock store file: %w", err)
		}
		if !locked {
			return fmt.Errorf("failed to lock store file %s", s.lock.Path())
		}
		defer s.lock.Unlock()

		if err := s.reloadLocked(true); err != nil {
			return err
		}
	}

	if err := fn(); err != nil {
		// fn may have mutated an entity before failing
		s.loaded = nil
		return s.discardLocked(err)
	}
	if err := s.saveLocked(); err != nil {
		s.loaded = nil
		return s.discardLocked(err)
	}
	return nil
}

// discardLocked drops in-memory changes that never reached disk. The memory
// store has no disk copy, and fn only fails there before mutating.
func (s *FileStore) discardLocked(cause error) error {
	if s.path == "" {
		return cause
	}
	if err := s.reloadLocked(true); err != nil {
		s.logger.WarnWithFields("Failed to reload store", map[string]interface{}{"error": err.Error()})
	}
	return cause
}

// reloadLocked replaces the in-memory document with the file on disk. Unless
// force is set it skips the read when the file is the one last loaded.
// Caller holds s.mu.
func (s *FileStore) reloadLocked(force bool) error {
	if s.path == "" {
		return nil
	}

	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		if s.loaded != nil || force {
			s.entities = make(map[int64]*models.Entity)
			s.loaded = nil
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}
	if !force && s.sameFile(info) {
		return nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open store file: %w", err)
	}
	defer file.Close()

	// stat the handle itself so a concurrent rename cannot pair the wrong
	// info with the bytes read
	if info, err = file.Stat(); err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}

	var doc fileFormat
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode store file: %w", err)
	}
	entities := make(map[int64]*models.Entity, len(doc.Entities))
	for _, e := range doc.Entities {
		entities[e.UID] = e
	}
	s.entities = entities
	s.loaded = info
	return nil
}

// sameFile reports whether info describes the document last loaded. Every
// save renames a fresh file into place, so a rewrite changes the identity.
func (s *FileStore) sameFile(info os.FileInfo) bool {
	return s.loaded != nil &&
		os.SameFile(s.loaded, info) &&
		s.loaded.ModTime().Equal(info.ModTime()) &&
		s.loaded.Size() == info.Size()
}

// saveLocked writes the store atomically. Caller holds s.mu and the file lock.
func (s *FileStore) saveLocked() error {
	if s.path == "" {
		return nil
	}

	doc := fileFormat{Version: 1, SavedAt: time.Now()}
	for _, e := range s.entities {
		doc.Entities = append(doc.Entities, e)
	}
	sort.Slice(doc.Entities, func(i, j int) bool { return doc.Entities[i].UID < doc.Entities[j].UID })

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode store: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync store file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to stat store file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close store file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	s.loaded = info

	s.logger.DebugWithFields("Store saved", map[string]interface{}{
		"path":     s.path,
		"entities": len(doc.Entities),
	})
	return nil
}
