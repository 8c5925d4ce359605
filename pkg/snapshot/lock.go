package snapshot

import (
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/nexusdb/nexusdb/pkg/dberr"
)

// ProcessLock is the process-level exclusive lock §4.14 requires on a
// file:// database's directory: acquired on open, released on Close. An
// in-memory database never constructs one.
type ProcessLock struct {
	fl *flock.Flock
}

// AcquireLock takes an exclusive, non-blocking lock on dir/LOCK. It
// fails fast (rather than blocking) since a second process opening the
// same database concurrently is a configuration error, not something to
// wait out.
func AcquireLock(dir string) (*ProcessLock, error) {
	fl := flock.New(filepath.Join(dir, "LOCK"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, dberr.Wrap(dberr.KindResource, err, "acquiring database lock in %q", dir)
	}
	if !ok {
		return nil, dberr.New(dberr.KindResource, "database %q is already open by another process", dir)
	}
	return &ProcessLock{fl: fl}, nil
}

func (l *ProcessLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return dberr.Wrap(dberr.KindResource, err, "releasing database lock")
	}
	return nil
}
