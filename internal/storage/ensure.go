package storage

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

const (
	LedgerSchemaFile = "data.schema.json"
	BudgetSchemaFile = "budget.schema.json"

	schemaBaseURL = "https://budgetapp.local/schemata/"
)

//go:embed schemata/*.json
var embeddedSchemas embed.FS

// Outcome describes what EnsureStorage did with one file.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeValidated Outcome = "validated"
	OutcomeRecovered Outcome = "recovered"
)

// FileResult is one line of a Report.
type FileResult struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	Backup  string  `json:"backup,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Report lists every file EnsureStorage touched.
type Report struct {
	Files []FileResult `json:"files"`
}

// Recovered returns the files that failed validation and were reset.
func (r Report) Recovered() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Outcome == OutcomeRecovered {
			out = append(out, f)
		}
	}
	return out
}

type schemas struct {
	ledger *jsonschema.Schema
	budget *jsonschema.Schema
}

// EnsureStorage prepares the data directory for use. It creates missing
// directories and documents, and validates every existing document against
// its schema. A document that is not valid JSON or violates the schema is
// copied to a dated backup and replaced with its default. Shards are checked
// concurrently.
func (s *Store) EnsureStorage(ctx context.Context) (Report, error) {
	for _, dir := range []string{s.dataDir, s.ShardDir(), filepath.Dir(s.DeletedPath()), s.schemaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Report{}, &core.StorageError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	sch, err := s.loadSchemas()
	if err != nil {
		return Report{}, err
	}

	emptyLedger, err := encode(core.Ledger{})
	if err != nil {
		return Report{}, err
	}
	defaultBudget, err := encode(core.DefaultBudget())
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, doc := range []struct {
		path   string
		schema *jsonschema.Schema
		def    []byte
	}{
		{s.LedgerPath(), sch.ledger, emptyLedger},
		{s.BudgetPath(), sch.budget, defaultBudget},
		{s.DeletedPath(), sch.ledger, emptyLedger},
	} {
		res, err := s.validateOrRecover(doc.path, doc.schema, doc.def)
		if err != nil {
			return report, err
		}
		report.Files = append(report.Files, res)
	}

	dates, err := s.ListShardDates()
	if err != nil {
		return report, err
	}

	shardResults := make([]FileResult, len(dates))
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
			res, err := s.validateOrRecover(path, sch.ledger, emptyLedger)
			if err != nil {
				return err
			}
			shardResults[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Files = append(report.Files, shardResults...)

	s.logger.Info("Storage ready",
		applog.FieldOperation, applog.OpValidate,
		applog.FieldCount, len(report.Files),
		"recovered", len(report.Recovered()),
	)
	return report, nil
}

func (s *Store) validateOrRecover(path string, schema *jsonschema.Schema, def []byte) (FileResult, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(path, def); err != nil {
			return FileResult{}, &core.StorageError{Op: "write", Path: path, Err: err}
		}
		s.logger.Info("Storage file created", applog.FieldFile, path)
		return FileResult{Path: path, Outcome: OutcomeCreated}, nil
	}
	if err != nil {
		return FileResult{}, &core.StorageError{Op: "read", Path: path, Err: err}
	}

	reason := validateDocument(raw, schema)
	if reason == nil {
		s.logger.Debug("Storage file validated", applog.FieldFile, path)
		return FileResult{Path: path, Outcome: OutcomeValidated}, nil
	}

	// Backup names are picked by probing the filesystem.
	s.backupMu.Lock()
	defer s.backupMu.Unlock()
	backup, err := s.nextBackupPath(path)
	if err != nil {
		return FileResult{}, err
	}
	if err := writeFileAtomic(backup, raw); err != nil {
		return FileResult{}, &core.StorageError{Op: "backup", Path: backup, Err: err}
	}
	if err := writeFileAtomic(path, def); err != nil {
		return FileResult{}, &core.StorageError{Op: "write", Path: path, Err: err}
	}

	s.logger.Warn("Storage file failed validation and was reset",
		applog.FieldOperation, applog.OpRecover,
		applog.FieldFile, path,
		applog.FieldBackup, backup,
		applog.FieldError, reason.Error(),
	)
	return FileResult{Path: path, Outcome: OutcomeRecovered, Backup: backup, Reason: reason.Error()}, nil
}

// nextBackupPath returns <path>.<date>.log, or <path>.<date>.<n>.log with the
// smallest n not already taken.
func (s *Store) nextBackupPath(path string) (string, error) {
	stamp := core.FormatDate(s.now())
	candidate := fmt.Sprintf("%s.%s%s", path, stamp, backupExt)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", &core.StorageError{Op: "stat", Path: candidate, Err: err}
		}
		candidate = fmt.Sprintf("%s.%s.%d%s", path, stamp, n, backupExt)
	}
}

func validateDocument(raw []byte, schema *jsonschema.Schema) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}

// loadSchemas reads the schema documents from the schema directory, writing
// the built-in versions first when they are missing.
func (s *Store) loadSchemas() (schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	for _, name := range []string{LedgerSchemaFile, BudgetSchemaFile} {
		path := filepath.Join(s.schemaDir, name)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			raw, err = embeddedSchemas.ReadFile("schemata/" + name)
			if err != nil {
				return schemas{}, fmt.Errorf("read built-in schema %s: %w", name, err)
			}
			if err := writeFileAtomic(path, raw); err != nil {
				return schemas{}, &core.StorageError{Op: "write", Path: path, Err: err}
			}
			s.logger.Info("Schema written", applog.FieldFile, path)
		} else if err != nil {
			return schemas{}, &core.StorageError{Op: "read", Path: path, Err: err}
		}
		if err := compiler.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
			return schemas{}, fmt.Errorf("load schema %s: %w", path, err)
		}
	}

	ledger, err := compiler.Compile(schemaBaseURL + LedgerSchemaFile)
	if err != nil {
		return schemas{}, fmt.Errorf("compile schema %s: %w", LedgerSchemaFile, err)
	}
	budget, err := compiler.Compile(schemaBaseURL + BudgetSchemaFile)
	if err != nil {
		return schemas{}, fmt.Errorf("compile schema %s: %w", BudgetSchemaFile, err)
	}
	return schemas{ledger: ledger, budget: budget}, nil
}
