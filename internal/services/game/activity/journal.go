// Package activity keeps the human-readable log of what happened to the
// attached account: ledger events, command outcomes and sync trouble.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/i18n/catalog"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

// Severity tags an entry for display.
type Severity string

const (
	SeverityNeutral Severity = "neutral"
	SeverityProfit  Severity = "profit"
	SeverityLoss    Severity = "loss"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 100

// Entry is one journal line.
type Entry struct {
	ID        uuid.UUID
	Account   domain.AccountID
	Severity  Severity
	Key       string
	Message   string
	CreatedAt time.Time
}

// Options configures a Journal.
type Options struct {
	Capacity int
	// Store persists entries; nil keeps the journal in memory only.
	Store  storage.ActivityStore
	Locale string
	Now    func() time.Time
	NewID  func() uuid.UUID
	Logf   func(string, ...any)
}

// Journal is a bounded in-memory log with optional persistence.
type Journal struct {
	printer  *message.Printer
	store    storage.ActivityStore
	capacity int
	now      func() time.Time
	newID    func() uuid.UUID
	logf     func(string, ...any)

	mu           sync.Mutex
	entries      []Entry
	seenEvents   map[string]struct{}
	eventOrder   []string
	listeners    map[int]func(Entry)
	nextListener int
}

// NewJournal builds a journal that renders messages from bundle.
func NewJournal(bundle *catalog.Bundle, opts Options) (*Journal, error) {
	if bundle == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "message catalog is required")
	}
	if opts.Capacity < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "journal capacity must not be negative")
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return &Journal{
		printer:    bundle.Printer(opts.Locale),
		store:      opts.Store,
		capacity:   opts.Capacity,
		now:        opts.Now,
		newID:      opts.NewID,
		logf:       opts.Logf,
		seenEvents: make(map[string]struct{}),
		listeners:  make(map[int]func(Entry)),
	}, nil
}

// Record renders key with args, appends the entry and persists it. Store
// failures are logged, not returned.
func (j *Journal) Record(ctx context.Context, account domain.AccountID, severity Severity, key string, args ...any) Entry {
	entry := Entry{
		ID:        j.newID(),
		Account:   account,
		Severity:  severity,
		Key:       key,
		Message:   j.printer.Sprintf(key, args...),
		CreatedAt: j.now().UTC(),
	}

	j.mu.Lock()
	j.appendLocked(entry)
	listeners := make([]func(Entry), 0, len(j.listeners))
	for _, fn := range j.listeners {
		listeners = append(listeners, fn)
	}
	j.mu.Unlock()

	if j.store != nil && !account.IsZero() {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := j.store.AppendActivity(ctx, toRecord(entry)); err != nil {
			j.logf("persist activity %s: %v", entry.ID, err)
		}
	}
	for _, fn := range listeners {
		fn(entry)
	}
	return entry
}

func (j *Journal) appendLocked(entry Entry) {
	j.entries = append(j.entries, entry)
	if over := len(j.entries) - j.capacity; over > 0 {
		j.entries = append(j.entries[:0:0], j.entries[over:]...)
	}
}

// Entries returns the kept entries for account, oldest first. A zero
// account returns every entry.
func (j *Journal) Entries(account domain.AccountID) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, entry := range j.entries {
		if account.IsZero() || entry.Account.Equal(account) {
			out = append(out, entry)
		}
	}
	return out
}

// Restore loads persisted entries for account ahead of the in-memory ones.
// Entries already held are skipped.
func (j *Journal) Restore(ctx context.Context, account domain.AccountID) error {
	if j.store == nil || account.IsZero() {
		return nil
	}
	records, err := j.store.ListActivity(ctx, account, j.capacity)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	held := make(map[uuid.UUID]struct{}, len(j.entries))
	for _, entry := range j.entries {
		held[entry.ID] = struct{}{}
	}
	restored := make([]Entry, 0, len(records)+len(j.entries))
	for _, record := range records {
		entry, err := fromRecord(record)
		if err != nil {
			j.logf("skip activity %q: %v", record.ID, err)
			continue
		}
		if _, ok := held[entry.ID]; ok {
			continue
		}
		restored = append(restored, entry)
	}
	j.entries = append(restored, j.entries...)
	if over := len(j.entries) - j.capacity; over > 0 {
		j.entries = j.entries[over:]
	}
	return nil
}

// OnEntry registers fn for every new entry and returns an unregister func.
func (j *Journal) OnEntry(fn func(Entry)) func() {
	if fn == nil {
		return func() {}
	}
	j.mu.Lock()
	id := j.nextListener
	j.nextListener++
	j.listeners[id] = fn
	j.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			j.mu.Lock()
			delete(j.listeners, id)
			j.mu.Unlock()
		})
	}
}

// firstSighting reports whether an event key is new, remembering up to
// capacity keys.
func (j *Journal) firstSighting(key string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.seenEvents[key]; ok {
		return false
	}
	j.seenEvents[key] = struct{}{}
	j.eventOrder = append(j.eventOrder, key)
	if len(j.eventOrder) > j.capacity {
		delete(j.seenEvents, j.eventOrder[0])
		j.eventOrder = j.eventOrder[1:]
	}
	return true
}

func toRecord(entry Entry) storage.ActivityRecord {
	return storage.ActivityRecord{
		ID:        entry.ID.String(),
		Account:   entry.Account,
		Severity:  string(entry.Severity),
		Key:       entry.Key,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt,
	}
}

func fromRecord(record storage.ActivityRecord) (Entry, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        id,
		Account:   record.Account,
		Severity:  Severity(record.Severity),
		Key:       record.Key,
		Message:   record.Message,
		CreatedAt: record.CreatedAt,
	}, nil
}
