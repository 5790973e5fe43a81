package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"budgetapp/internal/core"
	"budgetapp/internal/ident"
	applog "budgetapp/internal/log"
	"budgetapp/internal/storage"
)

// EventPublisher announces ledger changes. Delivery is best effort.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, eventType core.EventType, e core.Expense) error
}

// Store is the storage the expense service reads and writes.
// *storage.Store implements it.
type Store interface {
	Lock(resources ...string) (unlock func())
	LoadLedger() (core.Ledger, error)
	SaveLedger(data core.Ledger) error
	LoadShard(date string) (core.Ledger, error)
	SaveShard(data core.Ledger, date string) error
	ShardPath(date string) (string, error)
	ListShardDates() ([]time.Time, error)
	LoadShards(ctx context.Context, dates []time.Time) (core.Ledger, error)
	AppendDeleted(records ...core.Expense) error
}

// ExpenseService owns the expense lifecycle: created, patched any number of
// times, then deleted into the archive. Every expense lives in both the full
// ledger and the shard for its date. Events are published after the locks
// are released.
type ExpenseService struct {
	store     Store
	ids       *ident.Factory
	publisher EventPublisher
	logger    *applog.Logger
	now       func() time.Time
}

// ExpenseOption configures an ExpenseService.
type ExpenseOption func(*ExpenseService)

// WithExpenseClock overrides the clock used for creation timestamps and the
// current week.
func WithExpenseClock(now func() time.Time) ExpenseOption {
	return func(s *ExpenseService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewExpenseService wires the service. publisher may be nil.
func NewExpenseService(store Store, ids *ident.Factory, publisher EventPublisher, logger *applog.Logger, opts ...ExpenseOption) *ExpenseService {
	if ids == nil {
		ids = ident.New()
	}
	s := &ExpenseService{
		store:     store,
		ids:       ids,
		publisher: publisher,
		logger:    applog.OrDefault(logger, applog.ComponentExpense),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a new expense in the ledger and in its shard.
func (s *ExpenseService) Create(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	e, err := s.create(ctx, in)
	if err != nil {
		return core.Expense{}, err
	}

	applog.NewStructuredLogger(s.logger).LogExpense(ctx, applog.OpCreate, e.ID, e.Date, e.Amount)
	s.publish(ctx, core.EventExpenseCreated, e)
	return e, nil
}

func (s *ExpenseService) create(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	unlock := s.store.Lock(storage.ResourceLedger, storage.ShardResource(in.Date))
	defer unlock()

	ledger, err := s.store.LoadLedger()
	if err != nil {
		return core.Expense{}, fmt.Errorf("load ledger: %w", err)
	}
	shard, err := s.store.LoadShard(in.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("load shard: %w", err)
	}

	id, err := s.ids.CreateID(ident.ExpenseFields(in, s.now()), ledger)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create id: %w", err)
	}
	e := core.Expense{ID: id, Amount: in.Amount, Description: in.Description, Date: in.Date}

	if err := s.store.SaveLedger(append(ledger.Clone(), e)); err != nil {
		return core.Expense{}, fmt.Errorf("save ledger: %w", err)
	}
	if err := s.store.SaveShard(append(shard, e), in.Date); err != nil {
		s.restoreLedger(ctx, ledger)
		return core.Expense{}, fmt.Errorf("save shard: %w", err)
	}
	return e, nil
}

// List returns the expenses of every shard the filter selects, in ascending
// date order and in insertion order within a day.
func (s *ExpenseService) List(ctx context.Context, filter core.ListFilter) (core.Ledger, error) {
	window := filter.Resolve(s.now())

	dates, err := s.store.ListShardDates()
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	selected := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if window.Includes(d) {
			selected = append(selected, d)
		}
	}

	out, err := s.store.LoadShards(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("load shards: %w", err)
	}
	return out, nil
}

// Exists reports whether id is present in the full ledger.
func (s *ExpenseService) Exists(ctx context.Context, id string) (bool, error) {
	ledger, err := s.store.LoadLedger()
	if err != nil {
		return false, fmt.Errorf("load ledger: %w", err)
	}
	return ledger.Contains(id), nil
}

// Patch overwrites the amount, description and date of an existing expense.
// The id never changes. When the date moves, the expense moves to the new
// date's shard.
func (s *ExpenseService) Patch(ctx context.Context, id string, in core.ExpenseInput) (core.Expense, error) {
	old, updated, err := s.patch(ctx, id, in)
	if err != nil {
		return core.Expense{}, err
	}

	s.logger.InfoContext(ctx, "Expense updated",
		applog.FieldOperation, applog.OpUpdate,
		applog.FieldExpenseID, id,
		applog.FieldDate, updated.Date,
		"previous_date", old.Date,
	)
	s.publish(ctx, core.EventExpenseUpdated, updated)
	return updated, nil
}

func (s *ExpenseService) patch(ctx context.Context, id string, in core.ExpenseInput) (old, updated core.Expense, err error) {
	// The ledger lock sorts before every shard lock, so taking it first keeps
	// the global order.
	unlockLedger := s.store.Lock(storage.ResourceLedger)
	defer unlockLedger()

	ledger, err := s.store.LoadLedger()
	if err != nil {
		return old, updated, fmt.Errorf("load ledger: %w", err)
	}
	idx := ledger.Find(id)
	if idx < 0 {
		return old, updated, &core.NotFoundError{ID: id}
	}
	old = ledger[idx]
	updated = core.Expense{ID: id, Amount: in.Amount, Description: in.Description, Date: in.Date}

	unlockShards := s.store.Lock(storage.ShardResource(old.Date), storage.ShardResource(updated.Date))
	defer unlockShards()

	// Both shards are read before anything is written.
	oldShard, err := s.store.LoadShard(old.Date)
	if err != nil {
		return old, updated, fmt.Errorf("load shard: %w", err)
	}
	newShard := oldShard
	if old.Date != updated.Date {
		if newShard, err = s.store.LoadShard(updated.Date); err != nil {
			return old, updated, fmt.Errorf("load shard: %w", err)
		}
	}

	next := ledger.Clone()
	next[idx] = updated
	if err := s.store.SaveLedger(next); err != nil {
		return old, updated, fmt.Errorf("save ledger: %w", err)
	}
	if err := s.moveInShards(ctx, old, updated, oldShard, newShard); err != nil {
		s.restoreLedger(ctx, ledger)
		return old, updated, err
	}
	return old, updated, nil
}

// moveInShards upserts updated into its shard, then prunes old from its
// previous shard. When the prune fails the new shard is put back, so a failed
// move leaves both shards as they were.
func (s *ExpenseService) moveInShards(ctx context.Context, old, updated core.Expense, oldShard, newShard core.Ledger) error {
	target := newShard.Clone()
	if i := target.Find(updated.ID); i >= 0 {
		target[i] = updated
	} else {
		target = append(target, updated)
	}
	if err := s.store.SaveShard(target, updated.Date); err != nil {
		return fmt.Errorf("save shard: %w", err)
	}
	if old.Date == updated.Date {
		return nil
	}

	if err := s.store.SaveShard(oldShard.Without(old.ID), old.Date); err != nil {
		s.restoreShard(ctx, newShard, updated.Date)
		return fmt.Errorf("save shard: %w", err)
	}
	return nil
}

// Delete archives the expense and removes it from the ledger and from the
// shard named by in.Date. The expense must be present in both.
func (s *ExpenseService) Delete(ctx context.Context, in core.DeleteInput) (core.Expense, error) {
	e, err := s.remove(ctx, in)
	if err != nil {
		return core.Expense{}, err
	}

	applog.NewStructuredLogger(s.logger).LogExpense(ctx, applog.OpDelete, e.ID, e.Date, e.Amount)
	s.publish(ctx, core.EventExpenseDeleted, e)
	return e, nil
}

func (s *ExpenseService) remove(ctx context.Context, in core.DeleteInput) (core.Expense, error) {
	unlock := s.store.Lock(storage.ResourceDeleted, storage.ResourceLedger, storage.ShardResource(in.Date))
	defer unlock()

	ledger, err := s.store.LoadLedger()
	if err != nil {
		return core.Expense{}, fmt.Errorf("load ledger: %w", err)
	}
	shard, err := s.store.LoadShard(in.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("load shard: %w", err)
	}

	idx := ledger.Find(in.ID)
	inShard := shard.Contains(in.ID)
	switch {
	case idx < 0 && !inShard:
		return core.Expense{}, &core.ConsistencyError{ID: in.ID, Date: in.Date, Missing: core.StoreBoth}
	case idx < 0:
		return core.Expense{}, &core.ConsistencyError{ID: in.ID, Date: in.Date, Missing: core.StoreLedger}
	case !inShard:
		return core.Expense{}, &core.ConsistencyError{ID: in.ID, Date: in.Date, Missing: core.StoreShard}
	}
	e := ledger[idx]

	// The archive is append-only; a failure after this point can leave a
	// duplicate archive entry but never loses the record.
	if err := s.store.AppendDeleted(e); err != nil {
		return core.Expense{}, fmt.Errorf("archive expense: %w", err)
	}
	if err := s.store.SaveLedger(ledger.Without(in.ID)); err != nil {
		return core.Expense{}, fmt.Errorf("save ledger: %w", err)
	}
	if err := s.store.SaveShard(shard.Without(in.ID), in.Date); err != nil {
		s.restoreLedger(ctx, ledger)
		return core.Expense{}, fmt.Errorf("save shard: %w", err)
	}

	check, err := s.store.LoadShard(in.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("verify shard: %w", err)
	}
	if check.Contains(in.ID) {
		s.restoreLedger(ctx, ledger)
		path, _ := s.store.ShardPath(in.Date)
		return core.Expense{}, &core.StorageError{Op: "verify", Path: path, Err: fmt.Errorf("expense %s still present after delete", in.ID)}
	}
	return e, nil
}

// Reshard rewrites every shard from the full ledger. Shards for dates with no
// expenses are left as empty lists. It returns the number of shards written.
func (s *ExpenseService) Reshard(ctx context.Context) (int, error) {
	unlock := s.store.Lock(storage.ResourceLedger)
	defer unlock()

	ledger, err := s.store.LoadLedger()
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	return s.reshardLocked(ctx, ledger)
}

func (s *ExpenseService) reshardLocked(ctx context.Context, ledger core.Ledger) (int, error) {
	byDate := make(map[string]core.Ledger)
	for _, e := range ledger {
		byDate[e.Date] = append(byDate[e.Date], e)
	}

	existing, err := s.store.ListShardDates()
	if err != nil {
		return 0, fmt.Errorf("list shards: %w", err)
	}
	for _, d := range existing {
		date := core.FormatDate(d)
		if _, ok := byDate[date]; !ok {
			byDate[date] = core.Ledger{}
		}
	}

	dates := make([]string, 0, len(byDate))
	resources := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
		resources = append(resources, storage.ShardResource(date))
	}
	slices.Sort(dates)

	unlock := s.store.Lock(resources...)
	defer unlock()

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.store.SaveShard(byDate[date], date); err != nil {
			return 0, fmt.Errorf("save shard: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "Shards rebuilt from ledger",
		applog.FieldOperation, applog.OpReshard,
		applog.FieldCount, len(dates),
	)
	return len(dates), nil
}

// BackfillIDs assigns an id to every ledger record without one, then rebuilds
// the shards so they carry the same ids.
func (s *ExpenseService) BackfillIDs(ctx context.Context) (int, error) {
	unlock := s.store.Lock(storage.ResourceLedger)
	defer unlock()

	ledger, err := s.store.LoadLedger()
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	updated, n, err := s.ids.AssignMissing(ledger)
	if err != nil {
		return 0, fmt.Errorf("assign ids: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.store.SaveLedger(updated); err != nil {
		return 0, fmt.Errorf("save ledger: %w", err)
	}
	if _, err := s.reshardLocked(ctx, updated); err != nil {
		return n, err
	}

	s.logger.InfoContext(ctx, "Missing expense ids assigned",
		applog.FieldOperation, applog.OpBackfill,
		applog.FieldCount, n,
	)
	return n, nil
}

// ConsistencyReport lists ids stored on only one side.
type ConsistencyReport struct {
	LedgerCount  int      `json:"ledger_count"`
	ShardCount   int      `json:"shard_count"`
	OnlyInLedger []string `json:"only_in_ledger"`
	OnlyInShards []string `json:"only_in_shards"`
}

// Consistent reports whether ledger and shards hold the same ids.
func (r ConsistencyReport) Consistent() bool {
	return len(r.OnlyInLedger) == 0 && len(r.OnlyInShards) == 0
}

// Verify compares the ids in the full ledger against the union of all shards.
func (s *ExpenseService) Verify(ctx context.Context) (ConsistencyReport, error) {
	ledger, err := s.store.LoadLedger()
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("load ledger: %w", err)
	}
	dates, err := s.store.ListShardDates()
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("list shards: %w", err)
	}
	shards, err := s.store.LoadShards(ctx, dates)
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("load shards: %w", err)
	}

	report := ConsistencyReport{
		LedgerCount:  len(ledger),
		ShardCount:   len(shards),
		OnlyInLedger: []string{},
		OnlyInShards: []string{},
	}
	for _, e := range ledger {
		if !shards.Contains(e.ID) {
			report.OnlyInLedger = append(report.OnlyInLedger, e.ID)
		}
	}
	for _, e := range shards {
		if !ledger.Contains(e.ID) {
			report.OnlyInShards = append(report.OnlyInShards, e.ID)
		}
	}
	return report, nil
}

// restoreShard puts back a shard read at the start of a failed operation.
func (s *ExpenseService) restoreShard(ctx context.Context, shard core.Ledger, date string) {
	if err := s.store.SaveShard(shard, date); err != nil {
		applog.NewStructuredLogger(s.logger).LogError(ctx, "Failed to restore shard after a failed move",
			err, applog.ComponentExpense, applog.OpRecover, applog.NewFields().WithCount(len(shard)))
	}
}

// restoreLedger puts back the ledger read at the start of a failed operation.
func (s *ExpenseService) restoreLedger(ctx context.Context, ledger core.Ledger) {
	if err := s.store.SaveLedger(ledger); err != nil {
		applog.NewStructuredLogger(s.logger).LogError(ctx, "Failed to restore ledger after shard write failure",
			err, applog.ComponentExpense, applog.OpRecover, applog.NewFields().WithCount(len(ledger)))
	}
}

func (s *ExpenseService) publish(ctx context.Context, eventType core.EventType, e core.Expense) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishExpenseEvent(ctx, eventType, e); err != nil {
		// The change is already on disk.
		s.logger.WarnContext(ctx, "Failed to publish expense event",
			applog.FieldOperation, applog.OpPublish,
			applog.FieldEventType, string(eventType),
			applog.FieldExpenseID, e.ID,
			applog.FieldError, err,
		)
	}
}
