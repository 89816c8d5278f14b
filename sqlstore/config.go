package sqlstore

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.pickle.dev/core/codecs"

	// Register both supported drivers: "sqlite3" (cgo) and "sqlite" (pure Go).
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// DatabaseName is the file name of the SQLite database within a store directory.
const DatabaseName = "pickle.db"

// Names of supported "database/sql" drivers.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Config configures a Handle.
type Config struct {
	Dir             string        `long:"dir" env:"DIR" description:"Base directory of the store. It must exist and be writable"`
	Driver          string        `long:"driver" env:"DRIVER" default:"sqlite3" choice:"sqlite3" choice:"sqlite" description:"SQLite driver: cgo github.com/mattn/go-sqlite3 (sqlite3) or pure-Go modernc.org/sqlite (sqlite)"`
	BusyTimeout     time.Duration `long:"busy-timeout" env:"BUSY_TIMEOUT" default:"5s" description:"Time to wait on a database locked by another connection"`
	CompactionCodec string        `long:"compaction-codec" env:"COMPACTION_CODEC" default:"gzip" choice:"none" choice:"gzip" choice:"snappy" choice:"zstd" description:"Compression of compaction artifacts"`
	TempDir         string        `long:"temp-dir" env:"TEMP_DIR" description:"Directory of compaction artifacts. The system temporary directory is used if not set"`

	// Fs is the file system of Dir and TempDir, and must present the same
	// files as the operating system does to SQLite. If nil, afero.NewOsFs()
	// is used. Tests may wrap it, eg with afero.NewReadOnlyFs.
	Fs afero.Fs `no-flag:"t" no-ini:"t"`
}

// withDefaults returns a copy of the Config with unset fields defaulted.
func (cfg Config) withDefaults() Config {
	if cfg.Driver == "" {
		cfg.Driver = DriverMattn
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CompactionCodec == "" {
		cfg.CompactionCodec = codecs.GZIP.String()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	return cfg
}

// Validate returns an error if the Config is not well-formed.
func (cfg Config) Validate() error {
	if cfg.Dir == "" {
		return errors.New("expected Dir")
	}
	switch cfg.Driver {
	case DriverMattn, DriverModernc:
	default:
		return errors.Errorf("unsupported Driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout < 0 {
		return errors.Errorf("invalid BusyTimeout (%s; expected >= 0)", cfg.BusyTimeout)
	}
	if _, err := codecs.ParseCodec(cfg.CompactionCodec); err != nil {
		return errors.WithMessage(err, "CompactionCodec")
	}
	return nil
}

// DatabasePath returns the path of the Config's SQLite database.
func (cfg Config) DatabasePath() string {
	return filepath.Join(cfg.Dir, DatabaseName)
}

// dataSourceName returns the driver-specific URI of the database.
// Both drivers run in WAL mode with synchronous=FULL, so that a committed
// transaction is durable, and begin write-locked (IMMEDIATE) transactions,
// so that concurrent handles serialize on BEGIN rather than deadlocking
// on lock upgrade.
func (cfg Config) dataSourceName() string {
	var ms = strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10)
	var values = url.Values{"_txlock": {"immediate"}}

	switch cfg.Driver {
	case DriverModernc:
		values["_pragma"] = []string{
			"busy_timeout(" + ms + ")",
			"journal_mode(WAL)",
			"synchronous(FULL)",
		}
	default:
		values.Set("_busy_timeout", ms)
		values.Set("_journal_mode", "WAL")
		values.Set("_synchronous", "FULL")
	}
	return "file:" + cfg.DatabasePath() + "?" + values.Encode()
}
