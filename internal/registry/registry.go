// Package registry is the authoritative in-memory store of transaction records.
//
// Every mutation publishes a deep-copied snapshot of all records to the
// subscribers; delivery is latest-wins, so a slow subscriber skips
// intermediate snapshots but never sees an older one after a newer one.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

var (
	// ErrDuplicateID is returned when inserting a record whose id is taken.
	ErrDuplicateID = errors.New("transaction id already registered")

	// ErrInvalidTransition is returned when an update would move a status backwards
	// or change the status of a finished record.
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ErrEmptyID is returned when inserting a record without an id.
	ErrEmptyID = errors.New("transaction id is empty")
)

// Status is the lifecycle state of a transaction record.
type Status int

const (
	// StatusPending records are validated and waiting to be signed.
	StatusPending Status = iota
	// StatusProcessing records have a chain-assigned hash.
	StatusProcessing
	// StatusSuccess records were included on chain.
	StatusSuccess
	// StatusFail records failed after signing.
	StatusFail
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	}
	return "unknown"
}

// IsActive reports whether the record still blocks new transactions for its account and chain.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsTerminal reports whether s is final.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

func (s Status) rank() int {
	if s.IsTerminal() {
		return 2
	}
	return int(s)
}

// Record is a transaction tracked from validation to its final status.
type Record struct {
	ID             string
	Address        string
	Chain          chain.ID
	ChainType      chain.Type
	Signer         string
	Payload        chain.Payload
	Status         Status
	ExtrinsicHash  string
	Errors         []error
	Warnings       []error
	EstimatedFee   chain.Amount
	TransferAmount chain.Amount
	URL            string
	IsInternal     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Payload = chain.CopyPayload(r.Payload)
	r.Errors = slices.Clone(r.Errors)
	r.Warnings = slices.Clone(r.Warnings)
	r.EstimatedFee = r.EstimatedFee.Clone()
	r.TransferAmount = r.TransferAmount.Clone()
	return r
}

// Patch lists the fields Update changes. Nil fields are left alone;
// Errors and Warnings are appended.
type Patch struct {
	Status        *Status
	ExtrinsicHash *string
	Payload       chain.Payload
	EstimatedFee  *chain.Amount
	Errors        []error
	Warnings      []error
}

// Snapshot maps record ids to records. Each subscriber receives its own copy.
type Snapshot map[string]Record

// Registry stores transaction records. It is safe for concurrent use.
type Registry struct {
	counter atomic.Uint64

	mu      sync.Mutex
	records map[string]*Record
	subs    map[*Subscription]struct{}
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		subs:    make(map[*Subscription]struct{}),
		now:     time.Now,
	}
}

// NextID returns a new record id: "<chain-type>.<chain>.<internal|external>.<n>".
func (r *Registry) NextID(chainType chain.Type, chainID chain.ID, internal bool) string {
	origin := "external"
	if internal {
		origin = "internal"
	}
	return fmt.Sprintf("%s.%s.%s.%d", chainType, chainID, origin, r.counter.Add(1))
}

// Insert adds a record. Ids are never replaced.
func (r *Registry) Insert(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(rec)
}

// InsertUnique adds a record unless an active record exists for the same
// address and chain, in which case it returns DuplicateTransaction.
func (r *Registry) InsertUnique(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if existing.Status.IsActive() && existing.Chain == rec.Chain && sameAddress(existing.Address, rec.Address) {
			return heralderr.WithDetail(heralderr.ErrDuplicateTransaction, existing.ID)
		}
	}
	return r.insertLocked(rec)
}

// Get returns a copy of the record with id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Update merges patch into the record with id. A missing record is a no-op.
func (r *Registry) Update(id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil
	}

	if patch.Status != nil {
		next := *patch.Status
		if rec.Status.IsTerminal() || next.rank() < rec.Status.rank() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
		}
		rec.Status = next
	}
	if patch.ExtrinsicHash != nil {
		rec.ExtrinsicHash = *patch.ExtrinsicHash
	}
	if patch.Payload != nil {
		rec.Payload = chain.CopyPayload(patch.Payload)
	}
	if patch.EstimatedFee != nil {
		rec.EstimatedFee = patch.EstimatedFee.Clone()
	}
	rec.Errors = append(rec.Errors, patch.Errors...)
	rec.Warnings = append(rec.Warnings, patch.Warnings...)
	rec.UpdatedAt = r.now()

	r.publishLocked()
	return nil
}

// Remove deletes the record with id. A missing record is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return
	}
	delete(r.records, id)
	r.publishLocked()
}

// ListProcessing returns the active records, oldest first.
func (r *Registry) ListProcessing() []Record {
	return r.list(func(rec *Record) bool { return rec.Status.IsActive() })
}

// List returns all records, oldest first.
func (r *Registry) List() []Record {
	return r.list(func(*Record) bool { return true })
}

// Subscribe registers a subscriber. It immediately receives the current snapshot.
func (r *Registry) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Snapshot, 1), registry: r}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub] = struct{}{}
	sub.ch <- r.snapshotLocked()
	return sub
}

func (r *Registry) insertLocked(rec Record) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	now := r.now()
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.records[rec.ID] = &stored

	r.publishLocked()
	return nil
}

func (r *Registry) list(keep func(*Record) bool) []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(r.records))
	for id, rec := range r.records {
		snap[id] = rec.Clone()
	}
	return snap
}

// publishLocked replaces whatever snapshot a subscriber has not read yet.
func (r *Registry) publishLocked() {
	for sub := range r.subs {
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- r.snapshotLocked()
	}
}

// Subscription receives registry snapshots.
type Subscription struct {
	ch       chan Snapshot
	registry *Registry
	once     sync.Once
}

// C returns the snapshot channel. It is closed by Close.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.registry.mu.Lock()
		defer s.registry.mu.Unlock()
		delete(s.registry.subs, s)
		close(s.ch)
	})
}

// sameAddress compares hex addresses case-insensitively and others exactly.
func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") && strings.HasPrefix(b, "0x") {
		return strings.EqualFold(a, b)
	}
	return a == b
}
