// Package scan implements the paginated historical inbox scan: page through
// the device inbox from a mode-dependent lookback date, classify each
// message, submit the transactional ones to the backend, and remember what
// was submitted so the next run skips it.
package scan

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finly/smsync/internal/bus"
	"github.com/finly/smsync/internal/dedup"
	"github.com/finly/smsync/internal/importer"
	"github.com/finly/smsync/internal/inbox"
	"github.com/finly/smsync/internal/lookback"
	"github.com/finly/smsync/internal/permission"
	"github.com/finly/smsync/internal/sms"
	"github.com/finly/smsync/internal/state"
)

const (
	// pageSize is the inbox page size; a shorter page ends the scan.
	pageSize = 100

	// maxPages caps one run at maxPages*pageSize messages. A deeper backlog
	// is picked up by the next run, which starts from the advanced watermark.
	maxPages = 10
)

// Creator submits one message body to the backend. Implemented by
// importer.Client.
type Creator interface {
	CreateFromSMS(ctx context.Context, userID, text string, timestamp int64) (*importer.Transaction, error)
}

// Progress reports scan progress to an observer.
type Progress struct {
	Scanned  int
	Imported int
}

// Options carries per-run callbacks. Both are optional.
type Options struct {
	// OnProgress is called after each imported message.
	OnProgress func(Progress)

	// OnCreated is called once at the end of a run with every transaction
	// the backend created, in scan order. Not called for an empty run.
	OnCreated func([]importer.Transaction)
}

// Scanner runs historical inbox scans. At most one scan runs at a time;
// a concurrent Run returns immediately with zero imports.
type Scanner struct {
	reader  inbox.PagedReader
	creator Creator
	perms   permission.Checker
	db      *state.DB
	bus     *bus.Bus
	log     *zap.Logger

	running atomic.Bool
	nowFn   func() time.Time

	tracer   trace.Tracer
	imported metric.Int64Counter
	scanned  metric.Int64Counter
}

// New creates a scanner.
func New(reader inbox.PagedReader, creator Creator, perms permission.Checker, db *state.DB, b *bus.Bus, log *zap.Logger) *Scanner {
	meter := otel.Meter("smsync/scan")
	importedCtr, _ := meter.Int64Counter("smsync.scan.imported",
		metric.WithDescription("Messages imported as transactions by historical scans"))
	scannedCtr, _ := meter.Int64Counter("smsync.scan.scanned",
		metric.WithDescription("Messages examined by historical scans"))
	return &Scanner{
		reader:   reader,
		creator:  creator,
		perms:    perms,
		db:       db,
		bus:      b,
		log:      log,
		nowFn:    time.Now,
		tracer:   otel.Tracer("smsync/scan"),
		imported: importedCtr,
		scanned:  scannedCtr,
	}
}

// Running reports whether a scan is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Run executes one historical scan for userID in the given mode and
// returns the number of transactions created. A run that cannot proceed
// (scan already in flight, permission denied) returns 0 with no error;
// a backend failure mid-run aborts the whole run with an error, importing
// nothing durable, so the next run retries the same window.
func (s *Scanner) Run(ctx context.Context, userID string, mode lookback.Mode, opts Options) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("scan already running, skipping", zap.String("mode", string(mode)))
		return 0, nil
	}
	defer s.running.Store(false)

	ctx, span := s.tracer.Start(ctx, "scan.Run",
		trace.WithAttributes(attribute.String("sync.mode", string(mode))))
	defer span.End()

	ok, err := s.perms.Check(ctx)
	if err != nil {
		return 0, fmt.Errorf("check inbox permission: %w", err)
	}
	if !ok && (mode == lookback.ModeSignup || mode == lookback.ModeManual) {
		// Only user-initiated backfills may prompt; live ticks and login
		// scans run unattended.
		ok, err = s.perms.Request(ctx)
		if err != nil {
			return 0, fmt.Errorf("request inbox permission: %w", err)
		}
	}
	if !ok {
		s.log.Info("inbox permission not granted, skipping scan", zap.String("mode", string(mode)))
		return 0, nil
	}

	watermark, err := s.db.Watermark()
	if err != nil {
		return 0, err
	}
	now := s.nowFn().UnixMilli()
	minDate := lookback.MinDate(mode, watermark, now)

	seen := dedup.NewSet(s.db, state.KeyImportedIDs, dedup.ImportedIDCapacity)
	if err := seen.Load(); err != nil {
		return 0, fmt.Errorf("load imported-id set: %w", err)
	}

	s.log.Info("starting historical scan",
		zap.String("mode", string(mode)),
		zap.Int64("min_date", minDate),
		zap.Int("known_ids", seen.Len()))

	var (
		created    []importer.Transaction
		scanned    int
		latestSeen int64
	)
	for page := 0; page < maxPages; page++ {
		records, err := s.reader.List(ctx, inbox.Query{
			MinDate:   minDate,
			IndexFrom: page * pageSize,
			MaxCount:  pageSize,
		})
		if err != nil {
			return 0, fmt.Errorf("list inbox page %d: %w", page, err)
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			scanned++
			if rec.NativeID == "" || seen.Has(rec.NativeID) {
				continue
			}
			if !sms.IsTransactionMessage(rec.Body) {
				continue
			}

			txn, err := s.creator.CreateFromSMS(ctx, userID, rec.Body, rec.Timestamp)
			if err != nil {
				// Abort the whole run: nothing below persists, so the next
				// run re-walks the same window with the same known-ID set.
				return 0, fmt.Errorf("import message %s: %w", rec.NativeID, err)
			}
			seen.Remember(rec.NativeID)
			created = append(created, *txn)
			if rec.Timestamp > latestSeen {
				latestSeen = rec.Timestamp
			}

			if opts.OnProgress != nil {
				opts.OnProgress(Progress{Scanned: scanned, Imported: len(created)})
			}
			s.bus.Emit("scan.progress", Progress{Scanned: scanned, Imported: len(created)})
		}

		if len(records) < pageSize {
			break
		}
	}

	if err := seen.Persist(); err != nil {
		return 0, fmt.Errorf("persist imported-id set: %w", err)
	}
	newMark := now
	if latestSeen > newMark {
		newMark = latestSeen
	}
	if err := s.db.SetWatermark(newMark); err != nil {
		return 0, fmt.Errorf("set watermark: %w", err)
	}

	for i := range created {
		txn := &created[i]
		if err := s.db.RecordImport(&state.ImportRecord{
			ID:          txn.ID,
			UserID:      txn.UserID,
			Amount:      txn.Amount,
			Category:    txn.Category,
			Description: txn.Description,
			TxnType:     txn.Type,
			RefID:       txn.RefID,
			Source:      txn.Source,
		}); err != nil {
			// The journal is advisory; losing a row never blocks a sync.
			s.log.Warn("record import journal row", zap.String("txn_id", txn.ID), zap.Error(err))
		}
	}

	if len(created) > 0 && opts.OnCreated != nil {
		opts.OnCreated(created)
	}

	s.scanned.Add(ctx, int64(scanned))
	s.imported.Add(ctx, int64(len(created)),
		metric.WithAttributes(attribute.String("sync.mode", string(mode))))
	span.SetAttributes(
		attribute.Int("scan.scanned", scanned),
		attribute.Int("scan.imported", len(created)))

	s.log.Info("historical scan finished",
		zap.String("mode", string(mode)),
		zap.Int("scanned", scanned),
		zap.Int("imported", len(created)),
		zap.Int64("watermark", newMark))
	s.bus.Emit("scan.completed", Progress{Scanned: scanned, Imported: len(created)})

	return len(created), nil
}
