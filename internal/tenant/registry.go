// Package tenant opens and caches one isolated store per tenant. A Registry
// is owned by main and passed to whoever needs tenant handles.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"channelkeys/internal/store"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInvalidTenant = errors.New("invalid tenant id")

var tenantRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

type Config struct {
	Driver      string // sqlite | postgres
	DataDir     string
	DSNTemplate string // {tenant} is replaced with the tenant id
	LogSQL      bool
}

type Registry struct {
	cfg    Config
	mu     sync.Mutex
	stores map[string]*store.Store
}

func NewRegistry(cfg Config) (*Registry, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, errors.New("tenant: sqlite driver needs a data dir")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	case "postgres":
		if !strings.Contains(cfg.DSNTemplate, "{tenant}") {
			return nil, errors.New("tenant: postgres DSN template must contain {tenant}")
		}
	default:
		return nil, fmt.Errorf("tenant: unknown driver %q", cfg.Driver)
	}
	return &Registry{cfg: cfg, stores: map[string]*store.Store{}}, nil
}

func ValidID(id string) bool { return tenantRe.MatchString(id) }

// Store returns the tenant's handle, opening and migrating it on first use.
func (r *Registry) Store(ctx context.Context, id string) (*store.Store, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[id]; ok {
		return st, nil
	}
	db, err := r.open(id)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: open: %w", id, err)
	}
	st := store.NewForTenant(id, db)
	if err := st.Migrate(ctx); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("tenant %s: migrate: %w", id, err)
	}
	r.stores[id] = st
	return st, nil
}

func (r *Registry) open(id string) (*gorm.DB, error) {
	lvl := logger.Silent
	if r.cfg.LogSQL {
		lvl = logger.Info
	}
	gcfg := &gorm.Config{
		Logger: logger.New(log.New(log.Writer(), "", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		TranslateError: true,
	}

	if r.cfg.Driver == "postgres" {
		return gorm.Open(postgres.Open(strings.ReplaceAll(r.cfg.DSNTemplate, "{tenant}", id)), gcfg)
	}

	path := filepath.Join(r.cfg.DataDir, id+".db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Close releases every open tenant handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, st := range r.stores {
		if err := closeDB(st.DB); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
		}
		delete(r.stores, id)
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
