package tracklog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (and creates if needed) the track log database.
//
// DSN pragmas:
//   - busy_timeout: avoids "database is locked" when the export endpoint reads
//     while the recorder writes
//   - journal_mode=WAL: concurrent reads during writes
func Open(path string) (*sql.DB, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracklog open: %w", err)
	}

	// One writer; SQLite does not benefit from more here.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracklog ping: %w", err)
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("tracklog path is empty")
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	// Pass explicit file: DSNs (e.g. in-memory for tests) through untouched
	// except for the pragmas.
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
