package sqlstore

import (
	"context"
	"database/sql"

	"go.pickle.dev/core/metrics"
)

// Binder returns the arguments bound to the placeholders of a statement.
type Binder func() ([]interface{}, error)

// Args returns a Binder of constant arguments.
func Args(args ...interface{}) Binder {
	return func() ([]interface{}, error) { return args, nil }
}

func (b Binder) bind() ([]interface{}, error) {
	if b == nil {
		return nil, nil
	}
	return b()
}

// preparer is implemented by both *sql.DB and *sql.Tx.
type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// ExecuteUpdate prepares and executes the mutating statement |query| within
// the current transaction of the Handle, passing the number of affected rows
// to |updated| (which may be nil). Unless the Handle is within InTransaction,
// the transaction is committed on success and rolled back on failure.
//
// Failures of the driver are returned as ErrStorage. Failures of |bind| or
// |updated| are returned as-is.
func ExecuteUpdate(ctx context.Context, h *Handle, query string, bind Binder, updated func(n int64) error) (n int64, err error) {
	defer func() {
		observeStatement(metrics.Update, err)

		if err == nil && !h.scoped {
			err = h.Commit()
		}
		if err != nil && !h.scoped {
			h.Rollback()
		}
	}()

	var txn *sql.Tx
	if txn, err = h.Transaction(ctx); err != nil {
		return 0, err
	}
	n, err = execute(ctx, txn, query, bind)
	if err == nil && updated != nil {
		err = updated(n)
	}
	return n, err
}

func execute(ctx context.Context, txn *sql.Tx, query string, bind Binder) (int64, error) {
	var stmt, err = txn.PrepareContext(ctx, query)
	if err != nil {
		return 0, newError(ErrStorage, "preparing statement", err)
	}
	defer stmt.Close()

	args, err := bind.bind()
	if err != nil {
		return 0, err
	}
	result, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, newError(ErrStorage, "executing statement", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, newError(ErrStorage, "reading affected rows", err)
	}
	return n, nil
}

// ExecuteQuery prepares and runs the read-only statement |query|, passing
// its result rows to |consume| and returning its result. The query runs
// within the Handle's current transaction, if there is one. Rows and the
// prepared statement are always closed before ExecuteQuery returns.
//
// Failures of the driver are returned as ErrStorage. Failures of |bind| or
// |consume| are returned as-is.
func ExecuteQuery[R any](ctx context.Context, h *Handle, query string, bind Binder, consume func(*sql.Rows) (R, error)) (out R, err error) {
	defer func() { observeStatement(metrics.Query, err) }()

	var p preparer
	if h.txn != nil {
		p = h.txn
	} else if h.db != nil {
		p = h.db
	} else {
		return out, newError(ErrStorage, "preparing query", errClosed)
	}

	stmt, err := p.PrepareContext(ctx, query)
	if err != nil {
		return out, newError(ErrStorage, "preparing query", err)
	}
	defer stmt.Close()

	args, err := bind.bind()
	if err != nil {
		return out, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return out, newError(ErrStorage, "executing query", err)
	}
	defer rows.Close()

	if out, err = consume(rows); err != nil {
		return out, err
	} else if err = rows.Err(); err != nil {
		return out, newError(ErrStorage, "reading query rows", err)
	}
	return out, nil
}

// ScanInt64 consumes a single-row, single-column integer result.
// A NULL or missing result scans as zero with ok=false.
func ScanInt64(rows *sql.Rows) (Int64Result, error) {
	var v sql.NullInt64
	if !rows.Next() {
		return Int64Result{}, nil
	} else if err := rows.Scan(&v); err != nil {
		return Int64Result{}, newError(ErrStorage, "scanning row", err)
	}
	return Int64Result{Value: v.Int64, Ok: v.Valid}, nil
}

// Int64Result is the result of ScanInt64.
type Int64Result struct {
	Value int64
	Ok    bool
}

func observeStatement(kind string, err error) {
	var status = metrics.Ok
	if err != nil {
		status = metrics.Fail
	}
	metrics.StatementsTotal.WithLabelValues(kind, status).Inc()
}
