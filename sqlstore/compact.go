package sqlstore

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/codecs"
	"go.pickle.dev/core/metrics"
)

// Compact rebuilds the database to reclaim the space of deleted rows.
// The database is dumped to a SQL script artifact within Config.TempDir,
// its files are deleted, and the database is re-created from the script.
// Row ids and AUTOINCREMENT sequences are preserved.
//
// Compact holds the lock file of the store directory while it runs. It
// fails with ErrCompaction if another handle holds the lock or if a
// transaction is open. A failure before the database is closed leaves it
// untouched. A later failure leaves the artifact in place, and its path is
// logged and returned.
func (h *Handle) Compact(ctx context.Context) (err error) {
	var started = time.Now()
	var artifact string
	var closed bool

	defer func() {
		if err == nil {
			metrics.CompactionsTotal.WithLabelValues(metrics.Ok).Inc()
			metrics.CompactionSeconds.Observe(time.Since(started).Seconds())
			return
		}
		metrics.CompactionsTotal.WithLabelValues(metrics.Fail).Inc()

		if artifact == "" {
			return
		} else if !closed {
			_ = h.cfg.Fs.Remove(artifact)
		} else {
			log.WithFields(log.Fields{
				"path":     h.Path(),
				"artifact": artifact,
				"err":      err,
			}).Error("compaction failed after the database was closed; recover from artifact")
		}
	}()

	if h.db == nil {
		return newError(ErrCompaction, "compacting", errClosed)
	} else if h.txn != nil {
		return newError(ErrCompaction, "compacting", errors.New("a transaction is in progress"))
	}

	lock, err := h.lock()
	if err != nil {
		return newError(ErrCompaction, "locking "+h.cfg.Dir, err)
	}
	defer func() {
		if err := lock.Close(); err != nil {
			log.WithFields(log.Fields{"dir": h.cfg.Dir, "err": err}).
				Warn("failed to release store lock")
		}
	}()

	var before, _ = h.Size()

	artifact = filepath.Join(h.cfg.TempDir, fmt.Sprintf("%s-%s-pickle.sql%s",
		filepath.Base(h.cfg.Dir), uuid.New().String(), h.codec.Extension()))

	if err = h.dump(ctx, artifact); err != nil {
		return newError(ErrCompaction, "dumping database to "+artifact, err)
	}

	closed = true
	var db = h.db
	h.db = nil

	if err = db.Close(); err != nil {
		return newError(ErrCompaction, "closing database", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err = h.cfg.Fs.Remove(h.Path() + suffix); err != nil && !os.IsNotExist(err) {
			return newError(ErrCompaction, "removing database files", err)
		}
	}
	if err = h.open(); err != nil {
		return newError(ErrCompaction, "re-opening database", err)
	}
	if err = h.restore(ctx, artifact); err != nil {
		return newError(ErrCompaction, "restoring database from "+artifact, err)
	}
	if err = h.cfg.Fs.Remove(artifact); err != nil {
		log.WithFields(log.Fields{"artifact": artifact, "err": err}).
			Warn("failed to remove compaction artifact")
	}
	err = nil

	var after, _ = h.Size()
	var reclaimed int64
	if after < before {
		reclaimed = before - after
	}
	metrics.CompactionReclaimedBytesTotal.Add(float64(reclaimed))

	log.WithFields(log.Fields{
		"path":      h.Path(),
		"before":    humanize.Bytes(uint64(before)),
		"after":     humanize.Bytes(uint64(after)),
		"reclaimed": humanize.Bytes(uint64(reclaimed)),
		"elapsed":   time.Since(started),
	}).Info("compacted database")

	return nil
}

// dump writes a SQL script of the database to |path|, encoded with the
// configured codec. Each statement is written on its own line.
func (h *Handle) dump(ctx context.Context, path string) (err error) {
	file, err := h.cfg.Fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return errors.WithMessage(err, "creating artifact")
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	cw, err := codecs.NewCodecWriter(file, h.codec)
	if err != nil {
		return err
	}
	var bw = bufio.NewWriter(cw)

	txn, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "beginning dump transaction")
	}
	defer txn.Rollback()

	if err = dumpTo(ctx, txn, bw, h.Path()); err != nil {
		return err
	} else if err = bw.Flush(); err != nil {
		return errors.WithMessage(err, "flushing artifact")
	} else if err = cw.Close(); err != nil {
		return errors.WithMessage(err, "closing artifact compressor")
	} else if err = file.Sync(); err != nil {
		return errors.WithMessage(err, "syncing artifact")
	}
	return nil
}

var reCreate = regexp.MustCompile(`(?is)^\s*CREATE\s+(UNIQUE\s+)?(TABLE|INDEX)\s+(IF\s+NOT\s+EXISTS\s+)?`)

func dumpTo(ctx context.Context, txn *sql.Tx, w io.Writer, path string) error {
	if _, err := fmt.Fprintf(w, "-- pickle dump of %s at %s\n",
		path, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	type object struct{ kind, name, ddl string }
	var objects []object

	rows, err := txn.QueryContext(ctx, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' AND type IN ('table', 'index')
		ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, rowid`)
	if err != nil {
		return errors.WithMessage(err, "querying schema")
	}
	for rows.Next() {
		var o object
		if err = rows.Scan(&o.kind, &o.name, &o.ddl); err != nil {
			rows.Close()
			return errors.WithMessage(err, "scanning schema")
		}
		objects = append(objects, o)
	}
	if err = rows.Close(); err != nil {
		return err
	} else if err = rows.Err(); err != nil {
		return err
	}

	for _, o := range objects {
		var ddl = reCreate.ReplaceAllString(o.ddl, "CREATE ${1}${2} IF NOT EXISTS ")
		ddl = strings.Join(strings.Fields(ddl), " ")

		if _, err = fmt.Fprintf(w, "%s;\n", ddl); err != nil {
			return err
		}
	}
	for _, o := range objects {
		if o.kind != "table" {
			continue
		}
		if err = dumpRows(ctx, txn, w, o.name); err != nil {
			return errors.WithMessagef(err, "dumping table %s", o.name)
		}
	}

	var hasSequence bool
	if err = txn.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE name = 'sqlite_sequence'`,
	).Scan(&hasSequence); err != nil {
		return errors.WithMessage(err, "querying for sqlite_sequence")
	} else if !hasSequence {
		return nil
	}

	if rows, err = txn.QueryContext(ctx, `SELECT name, seq FROM sqlite_sequence`); err != nil {
		return errors.WithMessage(err, "querying sqlite_sequence")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var seq int64
		if err = rows.Scan(&name, &seq); err != nil {
			return errors.WithMessage(err, "scanning sqlite_sequence")
		}
		if _, err = fmt.Fprintf(w,
			"DELETE FROM sqlite_sequence WHERE name = %[1]s;\nINSERT INTO sqlite_sequence(name, seq) VALUES(%[1]s, %[2]d);\n",
			quoteLiteral(name), seq); err != nil {
			return err
		}
	}
	return rows.Err()
}

func dumpRows(ctx context.Context, txn *sql.Tx, w io.Writer, table string) error {
	var rows, err = txn.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" ORDER BY rowid")
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	var values = make([]interface{}, len(columns))
	var ptrs = make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	var line strings.Builder

	for rows.Next() {
		if err = rows.Scan(ptrs...); err != nil {
			return err
		}
		line.Reset()
		line.WriteString("INSERT INTO ")
		line.WriteString(quoteIdent(table))
		line.WriteString(" VALUES(")

		for i, v := range values {
			if i != 0 {
				line.WriteByte(',')
			}
			// Drivers may scan TEXT as []byte. Keep its storage class.
			if b, ok := v.([]byte); ok && isTextType(columns[i].DatabaseTypeName()) {
				v = string(b)
			}
			if err = writeLiteral(&line, v); err != nil {
				return errors.WithMessagef(err, "column %s", columns[i].Name())
			}
		}
		line.WriteString(");\n")

		if _, err = io.WriteString(w, line.String()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// writeLiteral renders |v| as a SQLite literal which fits on a single line.
func writeLiteral(b *strings.Builder, v interface{}) error {
	switch v := v.(type) {
	case nil:
		b.WriteString("NULL")
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		if v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	case []byte:
		b.WriteString("X'")
		b.WriteString(hex.EncodeToString(v))
		b.WriteByte('\'')
	case string:
		if strings.ContainsAny(v, "\n\r\x00") {
			b.WriteString("CAST(X'")
			b.WriteString(hex.EncodeToString([]byte(v)))
			b.WriteString("' AS TEXT)")
		} else {
			b.WriteString(quoteLiteral(v))
		}
	case time.Time:
		b.WriteString(quoteLiteral(v.Format("2006-01-02 15:04:05.999999999-07:00")))
	default:
		return errors.Errorf("unsupported column value type %T", v)
	}
	return nil
}

// restore replays the SQL script at |path| within a single transaction.
func (h *Handle) restore(ctx context.Context, path string) error {
	file, err := h.cfg.Fs.Open(path)
	if err != nil {
		return errors.WithMessage(err, "opening artifact")
	}
	defer file.Close()

	cr, err := codecs.NewCodecReader(file, h.codec)
	if err != nil {
		return err
	}
	defer cr.Close()

	return h.InTransaction(ctx, func(ctx context.Context) error {
		var br = bufio.NewReaderSize(cr, 1<<16)
		var count int

		for {
			var line, err = br.ReadString('\n')
			if err != nil && err != io.EOF {
				return errors.WithMessage(err, "reading artifact")
			}
			var stmt = strings.TrimSpace(line)

			if stmt != "" && !strings.HasPrefix(stmt, "--") {
				if _, execErr := h.txn.ExecContext(ctx, stmt); execErr != nil {
					return errors.WithMessagef(execErr, "replaying statement %d", count)
				}
				count++
			}
			if err == io.EOF {
				log.WithFields(log.Fields{
					"path":       h.Path(),
					"statements": count,
				}).Debug("replayed compaction artifact")
				return nil
			}
		}
	})
}

// isTextType applies SQLite's rule for columns of TEXT affinity.
func isTextType(decl string) bool {
	decl = strings.ToUpper(decl)
	return strings.Contains(decl, "CHAR") || strings.Contains(decl, "CLOB") || strings.Contains(decl, "TEXT")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
