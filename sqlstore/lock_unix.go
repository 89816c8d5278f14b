//go:build unix

package sqlstore

import (
	"os"
	"syscall"
)

func setFileLock(f *os.File, lock bool) error {
	var how = syscall.LOCK_UN
	if lock {
		how = syscall.LOCK_EX
	}
	return syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
}
