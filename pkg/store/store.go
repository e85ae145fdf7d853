package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"bilisub/pkg/config"
	"bilisub/pkg/logger"
	"bilisub/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for a uid, or a
	// destination to remove is not subscribed
	ErrNotFound = errors.New("entity not found")

	// ErrDestinationExists is returned when adding a destination that is
	// already subscribed
	ErrDestinationExists = errors.New("destination already subscribed")
)

// Store persists tracked entities. Implementations are safe for concurrent
// use. Returned entities are copies owned by the caller.
type Store interface {
	// List returns every entity, including those without destinations
	List(ctx context.Context) ([]*models.Entity, error)

	// Get returns the entity for uid or ErrNotFound
	Get(ctx context.Context, uid int64) (*models.Entity, error)

	// AddDestination subscribes dest to seed.UID. When no record exists yet
	// seed is stored first, so its watermarks are the starting point.
	AddDestination(ctx context.Context, seed *models.Entity, dest string) (*models.Entity, error)

	// RemoveDestination unsubscribes dest from uid. The record is kept even
	// when no destinations remain.
	RemoveDestination(ctx context.Context, uid int64, dest string) (*models.Entity, error)

	// SaveProgress merges p into the stored record. Watermarks never move
	// backwards and destinations are left untouched.
	SaveProgress(ctx context.Context, uid int64, p models.Progress) error

	Close() error
}

// Open creates the store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Store, error) {
	return OpenNamespace(ctx, cfg, "", log)
}

// NamespaceSeason holds season subscriptions apart from accounts, whose
// ids overlap
const NamespaceSeason = "season"

// OpenNamespace is Open for a separate set of entities on the same backend.
// The file driver uses a sibling file, redis a sub-prefix and postgres a
// prefixed table. An empty ns is the account namespace.
func OpenNamespace(ctx context.Context, cfg config.StorageConfig, ns string, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	fields := map[string]interface{}{
		"component": "store",
		"driver":    cfg.Driver,
	}
	if ns != "" {
		fields["namespace"] = ns
	}
	log = log.WithFields(fields)

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "file":
		s, err = OpenFile(namespacedPath(cfg.Path, ns), log)
	case "redis":
		prefix := cfg.RedisPrefix
		if prefix == "" {
			prefix = "bilisub"
		}
		if ns != "" {
			prefix += ":" + ns
		}
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, prefix, log)
	case "postgres":
		table := DefaultTable
		if ns != "" {
			table = ns + "_" + DefaultTable
		}
		s, err = OpenPostgres(ctx, cfg.PostgresDSN, table, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// namespacedPath turns entities.json into entities-season.json
func namespacedPath(path, ns string) string {
	if path == "" || ns == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + ns + ext
}
