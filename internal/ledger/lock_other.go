//go:build !unix

package ledger

import "os"

// Advisory locking is a no-op on platforms without flock(2); in-process
// appends are still serialized by the ledger mutex.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
