// Package permission models the platform permission surface for reading
// and receiving messages.
package permission

import "context"

// Checker resolves message-inbox permissions. Check never prompts; Request
// may suspend on a system dialog until the user settles it, so callers
// must pass a context they are willing to wait on.
type Checker interface {
	Check(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

// Granted is a Checker for environments where inbox access needs no
// runtime prompt (daemon hosts and tests).
type Granted struct{}

func (Granted) Check(context.Context) (bool, error) { return true, nil }

func (Granted) Request(context.Context) (bool, error) { return true, nil }

// Denied always refuses. Used in tests and as the safe default on
// platforms where the permission cannot be granted at all.
type Denied struct{}

func (Denied) Check(context.Context) (bool, error) { return false, nil }

func (Denied) Request(context.Context) (bool, error) { return false, nil }
