package backup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// lockRetry is how often a blocked lock acquisition re-checks.
const lockRetry = 250 * time.Millisecond

// dirLock serializes create and restore across processes with a file
// lock at the backup root, so concurrent runs never interleave writes
// inside one backup directory.
type dirLock struct {
	fl *flock.Flock
}

func newDirLock(root string) (*dirLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "create backup root")
	}
	return &dirLock{fl: flock.New(filepath.Join(root, ".backup.lock"))}, nil
}

// lock blocks until the root is exclusively held or ctx is done.
func (l *dirLock) lock(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return kberrors.Wrap(err, kberrors.KindInternal, "lock backup root")
	}
	if !ok {
		return kberrors.New(kberrors.KindInternal, "backup root lock not acquired")
	}
	return nil
}

func (l *dirLock) unlock() {
	_ = l.fl.Unlock()
}
