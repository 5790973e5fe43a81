package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

var fixedNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(
		filepath.Join(root, "data"),
		filepath.Join(root, "schemata"),
		applog.Nop(),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func ensure(t *testing.T, s *Store) Report {
	t.Helper()
	report, err := s.EnsureStorage(context.Background())
	if err != nil {
		t.Fatalf("EnsureStorage: %v", err)
	}
	return report
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(raw)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureStorageCreatesDefaults(t *testing.T) {
	s := newTestStore(t)
	report := ensure(t, s)

	if got := readFile(t, s.LedgerPath()); got != "[]\n" {
		t.Errorf("ledger = %q, want empty array", got)
	}
	if got := readFile(t, s.DeletedPath()); got != "[]\n" {
		t.Errorf("deleted archive = %q, want empty array", got)
	}
	if got := readFile(t, s.BudgetPath()); got != "{\n  \"weekly_budget\": 110\n}\n" {
		t.Errorf("budget = %q", got)
	}
	for _, name := range []string{LedgerSchemaFile, BudgetSchemaFile} {
		if _, err := os.Stat(filepath.Join(s.schemaDir, name)); err != nil {
			t.Errorf("schema %s not written: %v", name, err)
		}
	}
	if info, err := os.Stat(s.ShardDir()); err != nil || !info.IsDir() {
		t.Errorf("shard directory missing: %v", err)
	}

	for _, f := range report.Files {
		if f.Outcome != OutcomeCreated {
			t.Errorf("%s: outcome %s, want created", f.Path, f.Outcome)
		}
	}

	// A second run only validates.
	for _, f := range ensure(t, s).Files {
		if f.Outcome != OutcomeValidated {
			t.Errorf("%s: outcome %s on second run, want validated", f.Path, f.Outcome)
		}
	}
}

func TestEnsureStorageRecoversInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		path    func(*Store) string
		content string
		want    string
	}{
		{
			name:    "ledger with syntax error",
			path:    (*Store).LedgerPath,
			content: `[{"id": "a", "amount": 1`,
			want:    "[]\n",
		},
		{
			name:    "ledger violating schema",
			path:    (*Store).LedgerPath,
			content: `[{"id": "a", "amount": "lots", "description": "x", "date": "2024-01-08"}]`,
			want:    "[]\n",
		},
		{
			name:    "budget of the wrong type",
			path:    (*Store).BudgetPath,
			content: `{"weekly_budget": "abc"}`,
			want:    "{\n  \"weekly_budget\": 110\n}\n",
		},
		{
			name:    "deleted archive that is an object",
			path:    (*Store).DeletedPath,
			content: `{"not": "a list"}`,
			want:    "[]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			path := tt.path(s)
			writeFile(t, path, tt.content)

			report := ensure(t, s)

			if got := readFile(t, path); got != tt.want {
				t.Fatalf("reset content = %q, want %q", got, tt.want)
			}
			backup := path + ".2024-01-10.log"
			if got := readFile(t, backup); got != tt.content {
				t.Fatalf("backup content = %q, want original bytes", got)
			}
			recovered := report.Recovered()
			if len(recovered) != 1 || recovered[0].Path != path || recovered[0].Backup != backup {
				t.Fatalf("recovered = %+v", recovered)
			}
		})
	}
}

func TestEnsureStorageNumbersRepeatedBackups(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	writeFile(t, s.BudgetPath(), "first")
	ensure(t, s)
	writeFile(t, s.BudgetPath(), "second")
	ensure(t, s)

	if got := readFile(t, s.BudgetPath()+".2024-01-10.log"); got != "first" {
		t.Errorf("first backup = %q", got)
	}
	if got := readFile(t, s.BudgetPath()+".2024-01-10.1.log"); got != "second" {
		t.Errorf("second backup = %q", got)
	}
}

func TestEnsureStorageValidatesShards(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	good := `[{"id": "a", "amount": 2.5, "description": "tea", "date": "2024-01-08"}]`
	goodPath, _ := s.ShardPath("2024-01-08")
	badPath, _ := s.ShardPath("2024-01-09")
	writeFile(t, goodPath, good)
	writeFile(t, badPath, `[{"id": 7}]`)

	report := ensure(t, s)

	if got := readFile(t, goodPath); got != good {
		t.Errorf("valid shard was modified: %q", got)
	}
	if got := readFile(t, badPath); got != "[]\n" {
		t.Errorf("invalid shard = %q, want reset", got)
	}
	recovered := report.Recovered()
	if len(recovered) != 1 || recovered[0].Path != badPath {
		t.Fatalf("recovered = %+v", recovered)
	}

	// The backup sits next to the shard and must not break listing.
	dates, err := s.ListShardDates()
	if err != nil {
		t.Fatalf("ListShardDates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("dates = %v", dates)
	}
}

func TestEnsureStorageRejectsMalformedShardName(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, filepath.Join(s.ShardDir(), "data-2024-13-40.json"), "[]")

	_, err := s.EnsureStorage(context.Background())
	var serr *core.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestSaveLedgerIsByteStable(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	ledger := core.Ledger{
		{ID: "a", Amount: 12.5, Description: "coffee & cake", Date: "2024-01-08"},
		{ID: "b", Amount: 0.1, Description: "gum", Date: "2024-01-09"},
	}
	if err := s.SaveLedger(ledger); err != nil {
		t.Fatal(err)
	}
	first := readFile(t, s.LedgerPath())

	loaded, err := s.LoadLedger()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveLedger(loaded); err != nil {
		t.Fatal(err)
	}
	if second := readFile(t, s.LedgerPath()); second != first {
		t.Fatalf("round trip changed bytes:\n%s\nvs\n%s", first, second)
	}
	if !strings.HasSuffix(first, "}\n]\n") || !strings.Contains(first, "\n  {\n    \"id\": \"a\"") {
		t.Fatalf("unexpected layout:\n%s", first)
	}
	if !strings.Contains(first, "coffee & cake") {
		t.Fatal("HTML characters must not be escaped")
	}
}

func TestSaveLedgerNilWritesEmptyArray(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)
	if err := s.SaveLedger(nil); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, s.LedgerPath()); got != "[]\n" {
		t.Fatalf("ledger = %q", got)
	}
}

func TestLoadLedgerParseError(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)
	writeFile(t, s.LedgerPath(), "{oops")

	_, err := s.LoadLedger()
	var serr *core.StorageError
	if !errors.As(err, &serr) || serr.Op != "parse" {
		t.Fatalf("expected parse StorageError, got %v", err)
	}
}

func TestLoadShardCreatesMissing(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	data, err := s.LoadShard("2024-02-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("new shard has %d entries", len(data))
	}
	path, _ := s.ShardPath("2024-02-01")
	if got := readFile(t, path); got != "[]\n" {
		t.Fatalf("shard file = %q", got)
	}

	if _, err := s.LoadShard("../../etc/passwd"); err == nil {
		t.Fatal("expected error for a non-date shard name")
	}
}

func TestListShardDates(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	for _, name := range []string{
		"data-2024-01-09.json",
		"data-2024-01-08.json",
		"data-2024-01-08.json.2024-01-10.log",
		".tmp-123456",
	} {
		writeFile(t, filepath.Join(s.ShardDir(), name), "[]")
	}

	dates, err := s.ListShardDates()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, d := range dates {
		got = append(got, core.FormatDate(d))
	}
	if strings.Join(got, ",") != "2024-01-08,2024-01-09" {
		t.Fatalf("dates = %v", got)
	}

	writeFile(t, filepath.Join(s.ShardDir(), "notes.txt"), "hello")
	if _, err := s.ListShardDates(); err == nil {
		t.Fatal("expected error for malformed shard filename")
	}
}

func TestLoadShardsPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	mon := core.Ledger{
		{ID: "m1", Amount: 1, Description: "a", Date: "2024-01-08"},
		{ID: "m2", Amount: 2, Description: "b", Date: "2024-01-08"},
	}
	tue := core.Ledger{{ID: "t1", Amount: 3, Description: "c", Date: "2024-01-09"}}
	if err := s.SaveShard(mon, "2024-01-08"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveShard(tue, "2024-01-09"); err != nil {
		t.Fatal(err)
	}

	d1, _ := core.ParseDate("2024-01-08")
	d2, _ := core.ParseDate("2024-01-09")
	d3, _ := core.ParseDate("2024-01-10")

	got, err := s.LoadShards(context.Background(), []time.Time{d2, d1, d3})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if strings.Join(ids, ",") != "t1,m1,m2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestBudgetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s)

	b, err := s.LoadBudget()
	if err != nil {
		t.Fatal(err)
	}
	if b.WeeklyBudget != core.DefaultWeeklyBudget {
		t.Fatalf("default budget = %v", b.WeeklyBudget)
	}
	if err := s.SaveBudget(core.Budget{WeeklyBudget: 150}); err != nil {
		t.Fatal(err)
	}
	b, err = s.LoadBudget()
	if err != nil || b.WeeklyBudget != 150 {
		t.Fatalf("budget = %v, err %v", b, err)
	}
}

func TestAppendDeleted(t *testing.T) {
	s := newTestStore(t)

	// Works before EnsureStorage has created the archive.
	first := core.Expense{ID: "a", Amount: 1, Description: "x", Date: "2024-01-08"}
	second := core.Expense{ID: "b", Amount: 2, Description: "y", Date: "2024-01-09"}
	if err := s.AppendDeleted(first); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendDeleted(second); err != nil {
		t.Fatal(err)
	}

	archive, err := s.LoadDeletedArchive()
	if err != nil {
		t.Fatal(err)
	}
	if len(archive) != 2 || archive[0] != first || archive[1] != second {
		t.Fatalf("archive = %+v", archive)
	}
}

func TestExists(t *testing.T) {
	ledger := core.Ledger{{ID: "a"}, {ID: "b"}}
	if !Exists(ledger, "b") || Exists(ledger, "c") || Exists(nil, "a") {
		t.Fatal("Exists gave the wrong answer")
	}
}

func TestLockOrderingDoesNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := s.Lock(ResourceLedger, ShardResource("2024-01-08"))
			counter++
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := s.Lock(ShardResource("2024-01-08"), ResourceLedger, ResourceLedger)
			counter++
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}
