// Package inbox abstracts the device message inbox: a paginated reader for
// historical scans and an event source for realtime delivery. The native
// Android bridge implements both; everything else in the engine depends
// only on these interfaces.
package inbox

import (
	"context"

	"github.com/finly/smsync/internal/sms"
)

// Query selects one page of inbox messages.
type Query struct {
	MinDate   int64 // epoch millis, inclusive lower bound
	IndexFrom int
	MaxCount  int
}

// PagedReader reads the device inbox in fixed-size pages, newest first.
// A page shorter than MaxCount means the window is exhausted.
type PagedReader interface {
	List(ctx context.Context, q Query) ([]sms.Record, error)
}

// EventSource delivers newly received messages. Start is called once when
// the first subscriber attaches and Stop once when the last detaches; the
// platform delivers events serially, never concurrently.
type EventSource interface {
	Start(ctx context.Context, deliver func(sms.Record)) error
	Stop() error
}

// Unsupported is the reader and event source for platforms without a
// readable message inbox: every scan sees an empty inbox and the realtime
// receiver never fires.
type Unsupported struct{}

func (Unsupported) List(context.Context, Query) ([]sms.Record, error) { return nil, nil }

func (Unsupported) Start(context.Context, func(sms.Record)) error { return nil }

func (Unsupported) Stop() error { return nil }
