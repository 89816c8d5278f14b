package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.pickle.dev/core/codecs"
)

// Handle owns the database connection of a store directory.
type Handle struct {
	cfg    Config
	schema string
	codec  codecs.CompressionCodec

	db     *sql.DB // Open database, or nil if disposed.
	txn    *sql.Tx // Current transaction.
	scoped bool    // Whether |txn| is held open by InTransaction.
}

// Open a Handle to the store at Config.Dir, creating its database if it
// doesn't yet exist. The |schema| script is executed on every Open, and
// must be idempotent.
func Open(cfg Config, schema string) (*Handle, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrConfiguration, "validating Config", err)
	} else if err = checkDirectory(cfg.Fs, cfg.Dir); err != nil {
		return nil, err
	}
	var codec, _ = codecs.ParseCodec(cfg.CompactionCodec) // Checked by Validate.

	var h = &Handle{
		cfg:    cfg,
		schema: schema,
		codec:  codec,
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

// Dir returns the base directory of the Handle.
func (h *Handle) Dir() string { return h.cfg.Dir }

// Path returns the path of the Handle's SQLite database.
func (h *Handle) Path() string { return h.cfg.DatabasePath() }

// Config returns the Config of the Handle, with defaults applied.
func (h *Handle) Config() Config { return h.cfg }

// IsOpen returns whether the Handle has a live connection.
func (h *Handle) IsOpen() bool { return h.db != nil }

// InScope returns whether the Handle is within InTransaction.
func (h *Handle) InScope() bool { return h.scoped }

// Transaction returns or (if not already begun) begins a SQL transaction.
func (h *Handle) Transaction(ctx context.Context) (_ *sql.Tx, err error) {
	if h.db == nil {
		return nil, newError(ErrStorage, "beginning transaction", errClosed)
	}
	if h.txn == nil {
		if h.txn, err = h.db.BeginTx(ctx, nil); err != nil {
			h.txn = nil
			return nil, newError(ErrStorage, "beginning transaction", err)
		}
	}
	return h.txn, nil
}

// Commit the current transaction, if there is one.
func (h *Handle) Commit() error {
	if h.txn == nil {
		return nil
	}
	var txn = h.txn
	h.txn = nil

	if err := txn.Commit(); err != nil {
		return newError(ErrStorage, "committing transaction", err)
	}
	return nil
}

// Rollback the current transaction, if there is one. Failures are logged.
func (h *Handle) Rollback() {
	if h.txn == nil {
		return
	}
	var txn = h.txn
	h.txn = nil

	if err := txn.Rollback(); err != nil && err != sql.ErrTxDone {
		log.WithFields(log.Fields{
			"path": h.Path(),
			"err":  err,
		}).Warn("failed to roll back transaction")
	}
}

// InTransaction runs |fn| within a transaction of the Handle. Statements
// executed by |fn| don't individually commit. Instead, the transaction is
// committed if |fn| returns nil, or rolled back if it returns an error (or
// panics), in which case the error of |fn| is returned. InTransaction may
// not be nested.
func (h *Handle) InTransaction(ctx context.Context, fn func(context.Context) error) error {
	if h.scoped {
		return newError(ErrStorage, "beginning transaction",
			errors.New("transactions may not be nested"))
	} else if _, err := h.Transaction(ctx); err != nil {
		return err
	}
	h.scoped = true

	defer func() {
		if r := recover(); r != nil {
			h.scoped = false
			h.Rollback()
			panic(r)
		}
	}()
	var err = fn(ctx)
	h.scoped = false

	if err != nil {
		log.WithFields(log.Fields{
			"path": h.Path(),
			"err":  err,
		}).Debug("rolling back transaction")

		h.Rollback()
		return err
	}
	return h.Commit()
}

// Size returns the total size of regular files within the store directory.
func (h *Handle) Size() (int64, error) {
	var size int64
	var err = afero.Walk(h.cfg.Fs, h.cfg.Dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		} else if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// Dispose closes the database connection of the Handle, if it's open.
// Dispose is idempotent. Failures are logged.
func (h *Handle) Dispose() {
	if h.db == nil {
		return
	}
	h.Rollback()

	if err := h.db.Close(); err != nil {
		log.WithFields(log.Fields{
			"path": h.Path(),
			"err":  err,
		}).Warn("failed to close database connection")
	} else {
		log.WithField("path", h.Path()).Info("closed database connection")
	}
	h.db = nil
}

// open the database and apply the schema.
func (h *Handle) open() error {
	var db, err = sql.Open(h.cfg.Driver, h.cfg.dataSourceName())
	if err != nil {
		return newError(ErrStorage, fmt.Sprintf("opening database %s", h.Path()), err)
	}
	// SQLite serializes writers anyway. A single connection also guarantees
	// that the Handle's transaction is the only one in flight.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(h.schema); err != nil {
		_ = db.Close()
		return newError(ErrStorage, fmt.Sprintf("applying schema to %s", h.Path()), err)
	}
	h.db = db

	log.WithFields(log.Fields{
		"path":   h.Path(),
		"driver": h.cfg.Driver,
	}).Info("opened database connection")
	return nil
}

// checkDirectory verifies |dir| exists, is a directory, and is writable.
func checkDirectory(fs afero.Fs, dir string) error {
	var op = fmt.Sprintf("'%s' is not a writable directory or does not exist", dir)

	if info, err := fs.Stat(dir); err != nil {
		return newError(ErrConfiguration, op, err)
	} else if !info.IsDir() {
		return newError(ErrConfiguration, op, errors.New("not a directory"))
	}

	var probe, err = afero.TempFile(fs, dir, ".pickle-probe-")
	if err != nil {
		return newError(ErrConfiguration, op, err)
	}
	_ = probe.Close()

	if err = fs.Remove(probe.Name()); err != nil {
		return newError(ErrConfiguration, op, err)
	}
	return nil
}
