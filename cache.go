package gather

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// ============================================================================
// Reaction Flag Cache
// ============================================================================

// FlagCache is the local per-user store of "have I reacted" booleans keyed
// by entity ID (post or comment). It pre-seeds UI state before the
// authoritative fetch completes and survives process restarts when backed
// by SQLite. The cache is overwritten wholesale whenever an authoritative
// fetch lands.
type FlagCache interface {
	Get(entityID string) (liked, ok bool)
	Set(entityID string, liked bool) error
	// ReplaceAll discards the whole cache in favor of flags.
	ReplaceAll(flags map[string]bool) error
	Close() error
}

// ── in-memory implementation ─────────────────────────────────────────────

// MemoryFlagCache is a goroutine-safe in-memory FlagCache, used by tests
// and by callers that do not want durable state.
type MemoryFlagCache struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewMemoryFlagCache creates an empty in-memory cache.
func NewMemoryFlagCache() *MemoryFlagCache {
	return &MemoryFlagCache{flags: make(map[string]bool)}
}

func (c *MemoryFlagCache) Get(entityID string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.flags[entityID]
	return v, ok
}

func (c *MemoryFlagCache) Set(entityID string, liked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[entityID] = liked
	return nil
}

func (c *MemoryFlagCache) ReplaceAll(flags map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = make(map[string]bool, len(flags))
	for k, v := range flags {
		c.flags[k] = v
	}
	return nil
}

func (c *MemoryFlagCache) Close() error { return nil }

// ── sqlite implementation ────────────────────────────────────────────────

// SQLiteFlagCache persists reaction flags in a local SQLite database so a
// restart reflects the same optimistic state before the server round-trip
// completes.
type SQLiteFlagCache struct {
	db *sql.DB
}

// OpenFlagCache opens (creating if needed) the flag database at path. The
// caller picks a per-user path.
func OpenFlagCache(ctx context.Context, path string) (*SQLiteFlagCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open flag cache: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping flag cache: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reaction_flags (
			entity_id  TEXT PRIMARY KEY,
			liked      INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate flag cache: %w", err)
	}
	return &SQLiteFlagCache{db: db}, nil
}

func (c *SQLiteFlagCache) Get(entityID string) (bool, bool) {
	var liked int
	err := c.db.QueryRow(`SELECT liked FROM reaction_flags WHERE entity_id = ?`, entityID).Scan(&liked)
	if err != nil {
		return false, false
	}
	return liked != 0, true
}

func (c *SQLiteFlagCache) Set(entityID string, liked bool) error {
	v := 0
	if liked {
		v = 1
	}
	_, err := c.db.Exec(`
		INSERT INTO reaction_flags (entity_id, liked, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET liked = excluded.liked, updated_at = excluded.updated_at`,
		entityID, v, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

func (c *SQLiteFlagCache) ReplaceAll(flags map[string]bool) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("replace flags: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM reaction_flags`); err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}
	now := time.Now().Unix()
	for id, liked := range flags {
		v := 0
		if liked {
			v = 1
		}
		if _, err := tx.Exec(`INSERT INTO reaction_flags (entity_id, liked, updated_at) VALUES (?, ?, ?)`, id, v, now); err != nil {
			return fmt.Errorf("insert flag: %w", err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteFlagCache) Close() error { return c.db.Close() }
