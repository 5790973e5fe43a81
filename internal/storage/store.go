// Package storage persists expenses and the weekly budget as JSON documents.
//
// Every expense is written twice: once to the full ledger (data.json) and once
// to the shard holding its calendar day (expenses/data-YYYY-MM-DD.json). The
// budget lives in budget.json and deleted expenses are archived to
// deleted/data.deleted.json. Documents are validated against JSON schemas at
// startup by EnsureStorage; invalid files are backed up and reset.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

const (
	ledgerFile  = "data.json"
	budgetFile  = "budget.json"
	shardDir    = "expenses"
	deletedDir  = "deleted"
	deletedFile = "data.deleted.json"

	shardPrefix = "data-"
	shardSuffix = ".json"
	backupExt   = ".log"

	// maxParallelReads bounds the goroutines used for shard fan-out.
	maxParallelReads = 4
)

// Store reads and writes the data directory.
type Store struct {
	dataDir   string
	schemaDir string
	logger    *applog.Logger
	now       func() time.Time
	locks     lockTable
	backupMu  sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to date backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store rooted at dataDir. Schemas are read from schemaDir.
func NewStore(dataDir, schemaDir string, logger *applog.Logger, opts ...Option) *Store {
	s := &Store{
		dataDir:   dataDir,
		schemaDir: schemaDir,
		logger:    applog.OrDefault(logger, applog.ComponentStorage),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DataDir returns the root of the data directory.
func (s *Store) DataDir() string { return s.dataDir }

// LedgerPath returns the location of the full ledger.
func (s *Store) LedgerPath() string { return filepath.Join(s.dataDir, ledgerFile) }

// BudgetPath returns the location of the budget document.
func (s *Store) BudgetPath() string { return filepath.Join(s.dataDir, budgetFile) }

// DeletedPath returns the location of the deleted archive.
func (s *Store) DeletedPath() string { return filepath.Join(s.dataDir, deletedDir, deletedFile) }

// ShardDir returns the directory holding the daily shards.
func (s *Store) ShardDir() string { return filepath.Join(s.dataDir, shardDir) }

// ShardPath returns the shard location for date, which must be YYYY-MM-DD.
func (s *Store) ShardPath(date string) (string, error) {
	d, err := core.NormalizeDate(date)
	if err != nil {
		return "", fmt.Errorf("shard date %q: %w", date, err)
	}
	return filepath.Join(s.ShardDir(), shardPrefix+d+shardSuffix), nil
}

// LoadLedger returns the full ledger.
func (s *Store) LoadLedger() (core.Ledger, error) {
	return s.readLedgerFile(s.LedgerPath())
}

// SaveLedger replaces the full ledger.
func (s *Store) SaveLedger(data core.Ledger) error {
	return s.writeDocument(s.LedgerPath(), ledgerDocument(data))
}

// LoadShard returns the expenses recorded for date. A missing shard is
// created empty on first access.
func (s *Store) LoadShard(date string) (core.Ledger, error) {
	path, err := s.ShardPath(date)
	if err != nil {
		return nil, err
	}
	data, err := s.readLedgerFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(s.ShardDir(), 0o755); err != nil {
		return nil, &core.StorageError{Op: "mkdir", Path: s.ShardDir(), Err: err}
	}
	if err := s.writeDocument(path, core.Ledger{}); err != nil {
		return nil, err
	}
	s.logger.Debug("Shard created", applog.FieldFile, path)
	return core.Ledger{}, nil
}

// SaveShard replaces the shard for date.
func (s *Store) SaveShard(data core.Ledger, date string) error {
	path, err := s.ShardPath(date)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.ShardDir(), 0o755); err != nil {
		return &core.StorageError{Op: "mkdir", Path: s.ShardDir(), Err: err}
	}
	return s.writeDocument(path, ledgerDocument(data))
}

// LoadBudget returns the budget record.
func (s *Store) LoadBudget() (core.Budget, error) {
	path := s.BudgetPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.Budget{}, &core.StorageError{Op: "read", Path: path, Err: err}
	}
	var b core.Budget
	if err := json.Unmarshal(raw, &b); err != nil {
		return core.Budget{}, &core.StorageError{Op: "parse", Path: path, Err: err}
	}
	return b, nil
}

// SaveBudget replaces the budget record.
func (s *Store) SaveBudget(b core.Budget) error {
	return s.writeDocument(s.BudgetPath(), b)
}

// LoadDeletedArchive returns every archived expense. A missing archive reads
// as empty.
func (s *Store) LoadDeletedArchive() (core.Ledger, error) {
	data, err := s.readLedgerFile(s.DeletedPath())
	if errors.Is(err, fs.ErrNotExist) {
		return core.Ledger{}, nil
	}
	return data, err
}

// AppendDeleted adds records to the end of the deleted archive.
func (s *Store) AppendDeleted(records ...core.Expense) error {
	archive, err := s.LoadDeletedArchive()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.DeletedPath()), 0o755); err != nil {
		return &core.StorageError{Op: "mkdir", Path: filepath.Dir(s.DeletedPath()), Err: err}
	}
	return s.writeDocument(s.DeletedPath(), append(archive, records...))
}

// ListShardDates returns the date of every shard on disk in ascending order.
// Backups and temp files written by the store itself are skipped; any other
// file not named data-YYYY-MM-DD.json is an error.
func (s *Store) ListShardDates() ([]time.Time, error) {
	entries, err := os.ReadDir(s.ShardDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &core.StorageError{Op: "list", Path: s.ShardDir(), Err: err}
	}

	dates := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || isStoreArtefact(name) {
			continue
		}
		date, err := parseShardName(name)
		if err != nil {
			return nil, &core.StorageError{Op: "list", Path: filepath.Join(s.ShardDir(), name), Err: err}
		}
		dates = append(dates, date)
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	return dates, nil
}

// LoadShards concatenates the shards for dates in the order given. Shards are
// read concurrently; a missing shard contributes nothing.
func (s *Store) LoadShards(ctx context.Context, dates []time.Time) (core.Ledger, error) {
	parts := make([]core.Ledger, len(dates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i, date := range dates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, err := s.ShardPath(core.FormatDate(date))
			if err != nil {
				return err
			}
			data, err := s.readLedgerFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := core.Ledger{}
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

// Exists reports whether an expense with id is present in ledger.
func Exists(ledger core.Ledger, id string) bool {
	return ledger.Contains(id)
}

func (s *Store) readLedgerFile(path string) (core.Ledger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.StorageError{Op: "read", Path: path, Err: err}
	}
	var data core.Ledger
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &core.StorageError{Op: "parse", Path: path, Err: err}
	}
	return ledgerDocument(data), nil
}

func (s *Store) writeDocument(path string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return &core.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return &core.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ledgerDocument keeps an empty ledger encoding as [] rather than null.
func ledgerDocument(data core.Ledger) core.Ledger {
	if data == nil {
		return core.Ledger{}
	}
	return data
}

func isStoreArtefact(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, backupExt)
}

func parseShardName(name string) (time.Time, error) {
	if !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, shardSuffix) {
		return time.Time{}, fmt.Errorf("unexpected file %q in shard directory", name)
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, shardPrefix), shardSuffix)
	date, err := core.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("shard %q has a malformed date: %w", name, err)
	}
	return date, nil
}
