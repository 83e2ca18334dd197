// Package syncer coordinates the historical scanner and the realtime
// listener, and moves the engine status machine as work starts and stops.
package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/finly/smsync/internal/importer"
	"github.com/finly/smsync/internal/lookback"
	"github.com/finly/smsync/internal/realtime"
	"github.com/finly/smsync/internal/scan"
	"github.com/finly/smsync/internal/state"
	"github.com/finly/smsync/internal/status"
)

// Syncer is the engine's top-level coordinator.
type Syncer struct {
	scanner  *scan.Scanner
	listener *realtime.Listener
	machine  *status.Machine
	db       *state.DB
	log      *zap.Logger
}

// New creates a syncer.
func New(scanner *scan.Scanner, listener *realtime.Listener, machine *status.Machine, db *state.DB, log *zap.Logger) *Syncer {
	return &Syncer{
		scanner:  scanner,
		listener: listener,
		machine:  machine,
		db:       db,
		log:      log,
	}
}

// SyncTransactions runs one historical scan in the given mode and returns
// the number of transactions created. While the realtime listener is
// attached the scan runs as a catch-up, returning to Listening afterwards;
// otherwise it runs standalone and returns to Idle.
func (s *Syncer) SyncTransactions(ctx context.Context, userID string, mode lookback.Mode, opts scan.Options) (int, error) {
	listening := s.machine.Current() == status.Listening
	if listening {
		_ = s.machine.Transition(status.CatchUp)
		defer func() { _ = s.machine.Transition(status.Listening) }()
	} else {
		_ = s.machine.Transition(status.Scanning)
		defer func() { _ = s.machine.Transition(status.Idle) }()
	}
	return s.scanner.Run(ctx, userID, mode, opts)
}

// BootstrapSync runs the scan the engine owes at startup. A pending
// signup/login trigger left by the auth flow is consumed exactly once;
// without one the scan runs in live mode against the watermark.
func (s *Syncer) BootstrapSync(ctx context.Context, userID string) (int, error) {
	mode := lookback.ModeLive
	trigger, err := s.db.AuthTrigger()
	if err != nil {
		return 0, err
	}
	if trigger != "" {
		if err := s.db.ClearAuthTrigger(); err != nil {
			return 0, err
		}
		if lookback.Valid(lookback.Mode(trigger)) {
			mode = lookback.Mode(trigger)
		} else {
			s.log.Warn("ignoring unknown auth trigger", zap.String("trigger", trigger))
		}
	}
	s.log.Info("bootstrap sync", zap.String("mode", string(mode)))
	return s.SyncTransactions(ctx, userID, mode, scan.Options{})
}

// StartRealtime attaches a realtime subscriber and returns its detach
// function. The status machine enters Listening on the first subscriber
// and returns to Idle when the last one detaches.
func (s *Syncer) StartRealtime(userID string, onCreated func([]importer.Transaction)) (func(), error) {
	detach, err := s.listener.Attach(userID, onCreated)
	if err != nil {
		return nil, err
	}
	if s.listener.Subscribers() == 1 {
		_ = s.machine.Transition(status.Listening)
	}
	return func() {
		detach()
		if s.listener.Subscribers() == 0 {
			_ = s.machine.Transition(status.Idle)
		}
	}, nil
}
