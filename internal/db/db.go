package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS file_versions (
			name       TEXT NOT NULL,
			version    INTEGER NOT NULL,
			content    BLOB NOT NULL,
			checksum   TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (name, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("create file_versions: %w", err)
	}

	return nil
}

// InsertVersion records one version and stamps last_modified in the same
// transaction. The (name, version) primary key rejects a second row with the
// same number.
func (d *DB) InsertVersion(v *FileVersion) error {
	content := v.Content
	if content == nil {
		content = []byte{}
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO file_versions (name, version, content, checksum, created_at)
		VALUES (?,?,?,?,?)`,
		v.Name, v.Number, content, formatChecksum(v.Checksum), v.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	_, err = tx.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)",
		metaLastModified, strconv.FormatInt(time.Now().UnixMilli(), 10))
	if err != nil {
		return fmt.Errorf("insert version: touch: %w", err)
	}
	return tx.Commit()
}

// LoadVersions returns every stored version ordered by name then number.
// A row whose content no longer matches its checksum is an error.
func (d *DB) LoadVersions() ([]*FileVersion, error) {
	rows, err := d.sql.Query(`
		SELECT name, version, content, checksum, created_at
		FROM file_versions ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*FileVersion
	for rows.Next() {
		var (
			v         FileVersion
			checksum  string
			createdAt int64
		)
		if err := rows.Scan(&v.Name, &v.Number, &v.Content, &checksum, &createdAt); err != nil {
			return nil, err
		}
		sum, err := strconv.ParseUint(checksum, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%s v%d: bad checksum %q", v.Name, v.Number, checksum)
		}
		if xxhash.Sum64(v.Content) != sum {
			return nil, fmt.Errorf("%s v%d: checksum mismatch", v.Name, v.Number)
		}
		v.Checksum = sum
		v.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &v)
	}
	return out, rows.Err()
}

const metaLastModified = "last_modified"

func (d *DB) getMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// LastModified returns when a version was last written, or the zero time
// for a database that has never accepted one.
func (d *DB) LastModified() time.Time {
	v, _ := d.getMeta(metaLastModified)
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatChecksum(sum uint64) string {
	return strconv.FormatUint(sum, 16)
}
