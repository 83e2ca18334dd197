// Package realtime imports transactions from messages as they arrive. A
// reference-counted registry of subscribers drives the underlying event
// source: the platform receiver starts when the first subscriber attaches
// and stops when the last detaches, and every delivered message is
// imported once and fanned out to all subscribers.
package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finly/smsync/internal/bus"
	"github.com/finly/smsync/internal/dedup"
	"github.com/finly/smsync/internal/importer"
	"github.com/finly/smsync/internal/inbox"
	"github.com/finly/smsync/internal/scan"
	"github.com/finly/smsync/internal/sms"
	"github.com/finly/smsync/internal/state"
)

type subscriber struct {
	userID    string
	onCreated func([]importer.Transaction)
}

// Listener receives live messages and imports the transactional ones.
type Listener struct {
	source  inbox.EventSource
	creator scan.Creator
	db      *state.DB
	bus     *bus.Bus
	log     *zap.Logger

	mu    sync.Mutex
	subs  map[string]*subscriber
	order []string
}

// New creates a listener. The event source is not started until the first
// subscriber attaches.
func New(source inbox.EventSource, creator scan.Creator, db *state.DB, b *bus.Bus, log *zap.Logger) *Listener {
	return &Listener{
		source:  source,
		creator: creator,
		db:      db,
		bus:     b,
		log:     log,
		subs:    make(map[string]*subscriber),
	}
}

// Attach registers a subscriber for realtime imports and returns its
// detach function. The first attach starts the platform receiver; the
// last detach stops it. Detach is idempotent.
func (l *Listener) Attach(userID string, onCreated func([]importer.Transaction)) (func(), error) {
	l.mu.Lock()
	id := uuid.NewString()
	l.subs[id] = &subscriber{userID: userID, onCreated: onCreated}
	l.order = append(l.order, id)
	first := len(l.subs) == 1
	l.mu.Unlock()

	if first {
		if err := l.source.Start(context.Background(), l.handleEvent); err != nil {
			l.remove(id)
			return nil, err
		}
		l.log.Info("realtime receiver started")
	}

	var once sync.Once
	detach := func() {
		once.Do(func() {
			if l.remove(id) {
				if err := l.source.Stop(); err != nil {
					l.log.Warn("stop realtime receiver", zap.Error(err))
				} else {
					l.log.Info("realtime receiver stopped")
				}
			}
		})
	}
	return detach, nil
}

// remove deletes a subscriber and reports whether it was the last one.
func (l *Listener) remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[id]; !ok {
		return false
	}
	delete(l.subs, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return len(l.subs) == 0
}

// Subscribers returns the number of attached subscribers.
func (l *Listener) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// handleEvent processes one delivered message. The platform delivers
// events serially, so the fingerprint set sees no concurrent access.
func (l *Listener) handleEvent(rec sms.Record) {
	if !sms.IsTransactionMessage(rec.Body) {
		return
	}

	l.mu.Lock()
	var userID string
	var targets []*subscriber
	if len(l.order) > 0 {
		// Import under the first-attached subscriber's account; every
		// subscriber still observes the result.
		userID = l.subs[l.order[0]].userID
		for _, id := range l.order {
			targets = append(targets, l.subs[id])
		}
	}
	l.mu.Unlock()
	if userID == "" {
		return
	}

	fp := sms.Fingerprint(rec)
	set := dedup.NewSet(l.db, state.KeyFingerprints, dedup.FingerprintCapacity)
	if err := set.Load(); err != nil {
		l.log.Error("load fingerprint set", zap.Error(err))
		return
	}
	if set.Has(fp) {
		l.log.Debug("duplicate realtime message", zap.String("address", rec.Address))
		return
	}

	txn, err := l.creator.CreateFromSMS(context.Background(), userID, rec.Body, rec.Timestamp)
	if err != nil {
		// Not remembered: the fingerprint stays eligible so a later
		// duplicate delivery retries the import.
		l.log.Warn("realtime import failed", zap.String("address", rec.Address), zap.Error(err))
		return
	}

	set.Remember(fp)
	if err := set.Persist(); err != nil {
		l.log.Error("persist fingerprint set", zap.Error(err))
	}
	if err := l.db.RecordImport(&state.ImportRecord{
		ID:          txn.ID,
		UserID:      txn.UserID,
		Amount:      txn.Amount,
		Category:    txn.Category,
		Description: txn.Description,
		TxnType:     txn.Type,
		RefID:       txn.RefID,
		Source:      txn.Source,
		MessageTS:   rec.Timestamp,
	}); err != nil {
		l.log.Warn("record import journal row", zap.String("txn_id", txn.ID), zap.Error(err))
	}

	l.log.Info("realtime transaction imported",
		zap.String("txn_id", txn.ID),
		zap.Float64("amount", txn.Amount))
	l.bus.Emit("import.created", *txn)

	batch := []importer.Transaction{*txn}
	for _, sub := range targets {
		if sub.onCreated != nil {
			sub.onCreated(batch)
		}
	}
}
