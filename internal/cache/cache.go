// Package cache persists chain metadata lists fetched from the planning service
// so that wallet add-chain payloads can be built without a network round trip.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

// ChainList is a cached chain metadata list. Expired entries are still
// returned so callers can fall back to them when the source is unreachable.
type ChainList struct {
	Hit     bool
	Chains  []model.ChainMetadata
	Age     time.Duration
	Expired bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS chain_lists (
			source TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			fetched_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune drops lists that expired more than keep ago.
func (s *Store) Prune(keep time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := s.now().UTC().Add(-keep).Unix()
	if _, err := s.db.Exec("DELETE FROM chain_lists WHERE fetched_at + ttl_seconds < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) GetChains(source string) (ChainList, error) {
	var payload []byte
	var fetchedUnix, ttlSeconds int64
	err := s.db.QueryRow("SELECT payload, fetched_at, ttl_seconds FROM chain_lists WHERE source = ?", source).Scan(&payload, &fetchedUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChainList{}, nil
		}
		return ChainList{}, fmt.Errorf("cache read: %w", err)
	}
	var chains []model.ChainMetadata
	if err := json.Unmarshal(payload, &chains); err != nil {
		return ChainList{}, fmt.Errorf("decode cached chains: %w", err)
	}

	age := s.now().UTC().Sub(time.Unix(fetchedUnix, 0).UTC())
	if age < 0 {
		age = 0
	}
	return ChainList{
		Hit:     true,
		Chains:  chains,
		Age:     age,
		Expired: age > time.Duration(ttlSeconds)*time.Second,
	}, nil
}

func (s *Store) PutChains(source string, chains []model.ChainMetadata, ttl time.Duration) error {
	payload, err := json.Marshal(chains)
	if err != nil {
		return fmt.Errorf("encode chains: %w", err)
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO chain_lists (source, payload, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			payload=excluded.payload,
			fetched_at=excluded.fetched_at,
			ttl_seconds=excluded.ttl_seconds
	`, source, payload, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}
