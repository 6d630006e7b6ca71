// Package ledger owns the per-store stock counters and their append-only
// movement history. Every counter change goes through Plan so the
// before/after chain and the reorder flag stay consistent.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// ErrConcurrentStockConflict is returned once the retry budget for optimistic
// stock updates is spent. Nothing was written; the request is safe to repeat.
var ErrConcurrentStockConflict = errors.New("concurrent stock conflict")

const defaultMaxAttempts = 3

// Movement is a requested change to one counter.
type Movement struct {
	StoreID       string
	SKU           string
	Type          string
	Delta         int
	ReferenceType string
	ReferenceID   string
	UnitCostCents *int64
	Actor         string
	Notes         string
}

// Planned is the outcome of applying a Movement to a counter snapshot.
type Planned struct {
	Level domain.StockLevel
	Entry domain.StockMovement
	Alert *domain.LowStockAlert
}

// AlertSink receives low-stock alerts after the raising unit commits.
type AlertSink interface {
	NotifyLowStock(ctx context.Context, alert domain.LowStockAlert) error
}

type Store interface {
	store.Atomic
	store.StockReader
}

type Ledger struct {
	repo         Store
	alerts       AlertSink
	logger       *zap.Logger
	now          func() time.Time
	maxAttempts  int
	retryBackoff time.Duration
	alertTimeout time.Duration
}

type Option func(*Ledger)

func WithAlertSink(sink AlertSink) Option {
	return func(l *Ledger) { l.alerts = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func New(repo Store, opts ...Option) *Ledger {
	l := &Ledger{
		repo:         repo,
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: 15 * time.Millisecond,
		alertTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plan applies m to level without side effects.
func Plan(level domain.StockLevel, m Movement, now time.Time) (Planned, error) {
	if m.StoreID == "" || m.SKU == "" {
		return Planned{}, fmt.Errorf("%w: movement needs store and sku", store.ErrInvalidTransaction)
	}
	if !domain.IsValidMovementType(m.Type) {
		return Planned{}, fmt.Errorf("%w: unknown movement type %q", store.ErrInvalidTransaction, m.Type)
	}
	if m.Delta == 0 {
		return Planned{}, fmt.Errorf("%w: movement delta must not be zero", store.ErrInvalidTransaction)
	}
	outbound := domain.IsOutboundMovement(m.Type)
	if outbound && m.Delta > 0 {
		return Planned{}, fmt.Errorf("%w: %s movement must be negative", store.ErrInvalidTransaction, m.Type)
	}
	if !outbound && m.Delta < 0 {
		return Planned{}, fmt.Errorf("%w: %s movement must be positive", store.ErrInvalidTransaction, m.Type)
	}

	before := level.OnHand
	after := before + m.Delta
	if after < 0 {
		return Planned{}, fmt.Errorf("%w: %s at %s has %d, requested %d", store.ErrInsufficientStock, m.SKU, m.StoreID, before, -m.Delta)
	}

	next := level
	next.StoreID = m.StoreID
	next.SKU = m.SKU
	next.OnHand = after
	next.UpdatedAt = now

	var alert *domain.LowStockAlert
	if outbound {
		if after <= next.ReorderLevel && !level.LowStock {
			next.LowStock = true
			alert = &domain.LowStockAlert{
				StoreID:      m.StoreID,
				SKU:          m.SKU,
				OnHand:       after,
				ReorderLevel: next.ReorderLevel,
				RaisedAt:     now,
			}
		}
	} else if after > next.ReorderLevel {
		next.LowStock = false
	}

	entry := domain.StockMovement{
		ID:             xid.New("mov"),
		StoreID:        m.StoreID,
		SKU:            m.SKU,
		Type:           m.Type,
		Delta:          m.Delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		ReferenceType:  m.ReferenceType,
		ReferenceID:    m.ReferenceID,
		UnitCostCents:  m.UnitCostCents,
		Actor:          m.Actor,
		Notes:          m.Notes,
		CreatedAt:      now,
	}
	return Planned{Level: next, Entry: entry, Alert: alert}, nil
}

type counterKey struct {
	storeID string
	sku     string
}

type lockedCounter struct {
	level   domain.StockLevel
	version int64
}

// ApplyTx posts movements inside the caller's unit of work. Counters are
// locked in (store, sku) order before any of them is written. Alerts are only
// delivered when tx was opened by RunAtomic.
func (l *Ledger) ApplyTx(ctx context.Context, tx store.Tx, movements ...Movement) ([]domain.StockMovement, error) {
	if len(movements) == 0 {
		return nil, nil
	}

	keys := make([]counterKey, 0, len(movements))
	seen := make(map[counterKey]bool, len(movements))
	for _, m := range movements {
		key := counterKey{storeID: m.StoreID, sku: m.SKU}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].storeID != keys[j].storeID {
			return keys[i].storeID < keys[j].storeID
		}
		return keys[i].sku < keys[j].sku
	})

	counters := make(map[counterKey]*lockedCounter, len(keys))
	for _, key := range keys {
		level, err := tx.LockStock(ctx, key.storeID, key.sku)
		if err != nil {
			return nil, err
		}
		counters[key] = &lockedCounter{level: level, version: level.Version}
	}

	now := l.now()
	entries := make([]domain.StockMovement, 0, len(movements))
	var alerts []domain.LowStockAlert
	for _, m := range movements {
		counter := counters[counterKey{storeID: m.StoreID, sku: m.SKU}]
		planned, err := Plan(counter.level, m, now)
		if err != nil {
			return nil, err
		}
		counter.level = planned.Level
		if err := tx.InsertMovement(ctx, planned.Entry); err != nil {
			return nil, err
		}
		entries = append(entries, planned.Entry)
		if planned.Alert != nil {
			alerts = append(alerts, *planned.Alert)
		}
	}

	for _, key := range keys {
		counter := counters[key]
		if err := tx.SaveStock(ctx, counter.level, counter.version); err != nil {
			return nil, err
		}
	}

	if unit, ok := tx.(*unitTx); ok {
		unit.alerts = append(unit.alerts, alerts...)
	}
	return entries, nil
}

// unitTx tags a transaction opened by RunAtomic so ApplyTx can queue alerts
// for delivery after commit.
type unitTx struct {
	store.Tx
	alerts []domain.LowStockAlert
}

// RunAtomic runs fn in one unit of work, retrying the whole unit when an
// optimistic stock update loses a race.
func (l *Ledger) RunAtomic(ctx context.Context, fn func(tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		var unit *unitTx
		err := l.repo.Atomic(ctx, func(tx store.Tx) error {
			unit = &unitTx{Tx: tx}
			return fn(unit)
		})
		if err == nil {
			if unit != nil {
				l.dispatch(ctx, unit.alerts)
			}
			return nil
		}
		if !errors.Is(err, store.ErrStockConflict) {
			return err
		}

		lastErr = err
		l.logger.Debug("stock update conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < l.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * l.retryBackoff):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConcurrentStockConflict, l.maxAttempts, lastErr)
}

// Atomic lets the ledger stand in wherever a store.Atomic is expected.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return l.RunAtomic(ctx, fn)
}

func (l *Ledger) dispatch(ctx context.Context, alerts []domain.LowStockAlert) {
	if l.alerts == nil || len(alerts) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, alert := range alerts {
		go func(alert domain.LowStockAlert) {
			alertCtx, cancel := context.WithTimeout(base, l.alertTimeout)
			defer cancel()
			if err := l.alerts.NotifyLowStock(alertCtx, alert); err != nil {
				l.logger.Warn("low stock alert failed",
					zap.String("store_id", alert.StoreID),
					zap.String("sku", alert.SKU),
					zap.Error(err),
				)
			}
		}(alert)
	}
}

// ApplyMovement posts a single movement in its own unit of work.
func (l *Ledger) ApplyMovement(ctx context.Context, m Movement) (domain.StockMovement, error) {
	var entry domain.StockMovement
	err := l.RunAtomic(ctx, func(tx store.Tx) error {
		entries, err := l.ApplyTx(ctx, tx, m)
		if err != nil {
			return err
		}
		entry = entries[0]
		return nil
	})
	return entry, err
}

// VerifyChain checks that consecutive entries of one counter link up.
func VerifyChain(entries []domain.StockMovement) error {
	last := make(map[counterKey]domain.StockMovement)
	for _, entry := range entries {
		if entry.QuantityAfter != entry.QuantityBefore+entry.Delta {
			return fmt.Errorf("movement %s: %d %+d != %d", entry.ID, entry.QuantityBefore, entry.Delta, entry.QuantityAfter)
		}
		key := counterKey{storeID: entry.StoreID, sku: entry.SKU}
		if prev, ok := last[key]; ok && prev.QuantityAfter != entry.QuantityBefore {
			return fmt.Errorf("movement %s starts at %d but %s ended at %d", entry.ID, entry.QuantityBefore, prev.ID, prev.QuantityAfter)
		}
		last[key] = entry
	}
	return nil
}
