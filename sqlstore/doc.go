// Package sqlstore manages the embedded SQLite database which backs pickle's
// durable collections.
//
// # Store Handle
//
// A Handle owns one database connection for a base directory. The database
// lives at a fixed location within the directory (see DatabaseName), and is
// created on first use. Each Handle is opened with a schema script which is
// applied on every open, and which must therefore be idempotent (use
// "CREATE TABLE IF NOT EXISTS" and friends).
//
// Every mutation runs within an explicit *sql.Tx. By default, the Statement
// Executor (ExecuteUpdate) begins a transaction, executes, and commits. Callers
// wanting several statements to commit atomically instead use InTransaction:
//
//	err := h.InTransaction(ctx, func(ctx context.Context) error {
//		if _, err := sqlstore.ExecuteUpdate(ctx, h, `DELETE FROM queue WHERE id = ?`, sqlstore.Args(id), nil); err != nil {
//			return err
//		}
//		return process(item) // A non-nil error rolls back the DELETE.
//	})
//
// A Handle is not safe for concurrent use. Collections serialize access to
// their Handle with an instance lock.
//
// # Compaction
//
// SQLite reuses pages freed by deleted rows, but never returns them to the
// file system. Compact reclaims them by dumping the database as a compressed
// SQL script, removing the database files, and replaying the script into a
// fresh database. Row ids and AUTOINCREMENT high-water marks are preserved,
// so collections observe no change other than a smaller directory.
//
// Compaction is not atomic with respect to a process crash: a crash after the
// database files are removed and before the replay completes loses the store.
// The compaction artifact is retained (and its path logged) whenever a
// compaction fails after that point, so that it may be replayed by hand.
package sqlstore
