package sqlstore

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LockName is the file name of the compaction lock within a store directory.
const LockName = "pickle.lock"

// errLocked is returned when the store's lock is held by another handle.
var errLocked = errors.New("store is locked by another handle")

// lockedFile is an exclusively locked file, held by one handle at a time.
type lockedFile interface {
	// Close releases the lock and closes the file.
	Close() error
}

// lock takes the lock of the store directory, failing with errLocked rather
// than waiting if another handle (of this or another process) holds it.
// The lock file is left in place after it's released.
func (h *Handle) lock() (lockedFile, error) {
	var path = filepath.Join(h.cfg.Dir, LockName)

	var f, err = h.cfg.Fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.WithMessage(err, "opening lock file")
	}
	// Only files of the OS may be locked. Other afero file systems are
	// private to the process, and are used without locking.
	var osf, ok = f.(*os.File)
	if !ok {
		return f, nil
	}
	if err = setFileLock(osf, true); err != nil {
		_ = f.Close()
		return nil, errLocked
	}
	return &osLockedFile{file: osf}, nil
}

type osLockedFile struct {
	file *os.File
}

func (f *osLockedFile) Close() error {
	if err := setFileLock(f.file, false); err != nil {
		_ = f.file.Close()
		return err
	}
	return f.file.Close()
}
