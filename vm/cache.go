package vm

import (
	"bytes"
	"database/sql"
	"fmt"
	"hash/crc32"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Verified-bytecode cache
// ---------------------------------------------------------------------------

// BytecodeCache persists verification results so a restarted process can
// skip re-verifying code it has already certified. The cache stores the
// exact code bytes alongside the checksum; a lookup only counts as a hit
// when the bytes and the declared frame shape both match.
type BytecodeCache struct {
	db *sql.DB
}

// OpenBytecodeCache opens or creates the cache database at path.
func OpenBytecodeCache(path string) (*BytecodeCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS verified (
		checksum   INTEGER NOT NULL,
		arg_count  INTEGER NOT NULL,
		vararg     INTEGER NOT NULL,
		env_length INTEGER NOT NULL,
		code       BLOB NOT NULL,
		max_depth  INTEGER NOT NULL,
		PRIMARY KEY (checksum, arg_count, vararg, env_length)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &BytecodeCache{db: db}, nil
}

// Close closes the underlying database.
func (c *BytecodeCache) Close() error {
	return c.db.Close()
}

// Lookup returns the recorded maximum operand depth for code verified under
// the given shape, and whether such a record exists.
func (c *BytecodeCache) Lookup(code []byte, shape FrameShape) (int, bool, error) {
	row := c.db.QueryRow(
		`SELECT code, max_depth FROM verified
		 WHERE checksum = ? AND arg_count = ? AND vararg = ? AND env_length = ?`,
		crc32.ChecksumIEEE(code), shape.ArgCount, boolInt(shape.Vararg), shape.EnvLength)

	var stored []byte
	var maxDepth int
	switch err := row.Scan(&stored, &maxDepth); err {
	case nil:
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("querying cache: %w", err)
	}

	// Checksum collisions are possible; the stored bytes decide.
	if !bytes.Equal(stored, code) {
		return 0, false, nil
	}
	return maxDepth, true, nil
}

// Store records a successful verification.
func (c *BytecodeCache) Store(code []byte, shape FrameShape, maxDepth int) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO verified
		 (checksum, arg_count, vararg, env_length, code, max_depth)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		crc32.ChecksumIEEE(code), shape.ArgCount, boolInt(shape.Vararg), shape.EnvLength,
		code, maxDepth)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
