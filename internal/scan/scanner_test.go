package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finly/smsync/internal/bus"
	"github.com/finly/smsync/internal/importer"
	"github.com/finly/smsync/internal/inbox"
	"github.com/finly/smsync/internal/lookback"
	"github.com/finly/smsync/internal/permission"
	"github.com/finly/smsync/internal/sms"
	"github.com/finly/smsync/internal/state"
)

func testDB(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return db
}

// fakeReader serves a fixed slice of records through the paging protocol.
type fakeReader struct {
	records []sms.Record
	pages   int
}

func (f *fakeReader) List(_ context.Context, q inbox.Query) ([]sms.Record, error) {
	f.pages++
	var window []sms.Record
	for _, r := range f.records {
		if r.Timestamp >= q.MinDate {
			window = append(window, r)
		}
	}
	if q.IndexFrom >= len(window) {
		return nil, nil
	}
	end := q.IndexFrom + q.MaxCount
	if end > len(window) {
		end = len(window)
	}
	return window[q.IndexFrom:end], nil
}

type fakeCreator struct {
	mu      sync.Mutex
	calls   int
	failAt  int // fail the Nth call (1-based), 0 means never
	started chan struct{}
	release chan struct{}
}

func (f *fakeCreator) CreateFromSMS(ctx context.Context, userID, text string, ts int64) (*importer.Transaction, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.failAt != 0 && n == f.failAt {
		return nil, errors.New("backend unavailable")
	}
	return &importer.Transaction{
		ID: fmt.Sprintf("txn-%d", n), UserID: userID,
		Amount: 500, Description: text, Source: "sms", Type: "debit",
	}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func txnRecords(n int, base int64) []sms.Record {
	recs := make([]sms.Record, n)
	for i := range recs {
		recs[i] = sms.Record{
			NativeID:  fmt.Sprintf("msg-%d", i),
			Address:   "VM-HDFCBK",
			Body:      fmt.Sprintf("Rs.%d.00 debited from a/c via UPI txn %d", 100+i, i),
			Timestamp: base + int64(i)*1000,
		}
	}
	return recs
}

func newTestScanner(t *testing.T, reader inbox.PagedReader, creator Creator, perms permission.Checker) (*Scanner, *state.DB) {
	t.Helper()
	db := testDB(t)
	s := New(reader, creator, perms, db, bus.New(), zap.NewNop())
	return s, db
}

func TestRunImportsAndPaginates(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(250, base)}
	creator := &fakeCreator{}
	s, _ := newTestScanner(t, reader, creator, permission.Granted{})

	var progress []Progress
	var batch []importer.Transaction
	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{
		OnProgress: func(p Progress) { progress = append(progress, p) },
		OnCreated:  func(txns []importer.Transaction) { batch = txns },
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Errorf("imported = %d, want 250", n)
	}
	// 250 records span two full pages and one half page.
	if reader.pages != 3 {
		t.Errorf("page requests = %d, want 3", reader.pages)
	}
	if len(batch) != 250 {
		t.Errorf("OnCreated batch size = %d, want 250", len(batch))
	}
	last := progress[len(progress)-1]
	if last.Imported != 250 || last.Scanned != 250 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestRunSkipsAlreadyImported(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(40, base)}
	creator := &fakeCreator{}
	s, _ := newTestScanner(t, reader, creator, permission.Granted{})

	if _, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{}); err != nil {
		t.Fatal(err)
	}
	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second run imported = %d, want 0", n)
	}
	if creator.count() != 40 {
		t.Errorf("total backend calls = %d, want 40", creator.count())
	}
}

func TestRunSkipsNonTransactional(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: []sms.Record{
		{NativeID: "m1", Body: "Rs.500 debited from a/c for UPI txn", Timestamp: base},
		{NativeID: "m2", Body: "Your OTP is 482913. Do not share it.", Timestamp: base + 1},
		{NativeID: "m3", Body: "", Timestamp: base + 2},
		{NativeID: "", Body: "Rs.200 debited via card purchase", Timestamp: base + 3},
	}}
	creator := &fakeCreator{}
	s, _ := newTestScanner(t, reader, creator, permission.Granted{})

	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("imported = %d, want 1", n)
	}
}

func TestRunAbortsOnBackendError(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(10, base)}
	creator := &fakeCreator{failAt: 5}
	s, db := newTestScanner(t, reader, creator, permission.Granted{})

	if _, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{}); err == nil {
		t.Fatal("expected error from failed backend call")
	}

	// Nothing from the aborted run may be durable: watermark untouched,
	// no remembered IDs, so a retry re-walks the full window.
	if wm, _ := db.Watermark(); wm != 0 {
		t.Errorf("watermark after aborted run = %d, want 0", wm)
	}
	creator.failAt = 0
	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("retry imported = %d, want 10", n)
	}
}

func TestRunAdvancesWatermark(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(3, base)}
	s, db := newTestScanner(t, reader, &fakeCreator{}, permission.Granted{})

	fixed := time.Now()
	s.nowFn = func() time.Time { return fixed }

	if _, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{}); err != nil {
		t.Fatal(err)
	}
	wm, err := db.Watermark()
	if err != nil {
		t.Fatal(err)
	}
	if wm != fixed.UnixMilli() {
		t.Errorf("watermark = %d, want scan time %d", wm, fixed.UnixMilli())
	}
}

func TestRunPermissionDenied(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(5, base)}
	creator := &fakeCreator{}
	s, _ := newTestScanner(t, reader, creator, permission.Denied{})

	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("imported = %d, want 0 without permission", n)
	}
	if creator.count() != 0 {
		t.Errorf("backend called %d times without permission", creator.count())
	}
}

func TestRunConcurrentGuard(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(1, base)}
	creator := &fakeCreator{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, _ := newTestScanner(t, reader, creator, permission.Granted{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
		done <- err
	}()
	<-creator.started

	n, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("concurrent run imported = %d, want 0", n)
	}

	close(creator.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if s.Running() {
		t.Error("Running() = true after run finished")
	}
}

func TestRunJournalsImports(t *testing.T) {
	base := time.Now().Add(-time.Hour).UnixMilli()
	reader := &fakeReader{records: txnRecords(4, base)}
	s, db := newTestScanner(t, reader, &fakeCreator{}, permission.Granted{})

	if _, err := s.Run(context.Background(), "u1", lookback.ModeManual, Options{}); err != nil {
		t.Fatal(err)
	}
	count, err := db.CountImports("u1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("journal rows = %d, want 4", count)
	}
}
