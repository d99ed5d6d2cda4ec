//go:build unix

package ledger

import (
	"os"
	"syscall"
)

// lockFile acquires an exclusive advisory lock via flock(2), blocking until
// the lock is granted. The lock is process-scoped and released on close, so a
// crashed writer can never leave the ledger locked.
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// unlockFile releases the advisory lock.
func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
