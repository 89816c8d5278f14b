//go:build !unix

package sqlstore

import "os"

// setFileLock is a no-op where flock(2) is unavailable.
func setFileLock(*os.File, bool) error { return nil }
