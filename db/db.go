package db

import (
	"database/sql"
	"errors"
	"time"

	"relay/models"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNoRows = errors.New("no rows found")

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT UNIQUE NOT NULL,
			original_name TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			mimetype TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_uploads_created ON uploads(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema version
func (db *DB) migrate() error {
	if !db.columnExists("uploads", "checksum") {
		if _, err := db.conn.Exec("ALTER TABLE uploads ADD COLUMN checksum TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

// columnExists checks if a column exists in a table
func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// SaveUpload stores the metadata of a stored blob and fills in its ID.
func (db *DB) SaveUpload(u *models.Upload) error {
	result, err := db.conn.Exec(
		`INSERT INTO uploads (filename, original_name, path, size, mimetype, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Filename, u.OriginalName, u.Path, u.Size, u.Mimetype, u.Checksum,
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// GetUpload returns the metadata for filename or ErrNoRows.
func (db *DB) GetUpload(filename string) (*models.Upload, error) {
	var u models.Upload
	var createdStr string
	err := db.conn.QueryRow(
		`SELECT id, filename, original_name, path, size, mimetype, checksum, created_at
		FROM uploads WHERE filename = ?`,
		filename,
	).Scan(&u.ID, &u.Filename, &u.OriginalName, &u.Path, &u.Size, &u.Mimetype, &u.Checksum, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) DeleteUpload(filename string) error {
	result, err := db.conn.Exec("DELETE FROM uploads WHERE filename = ?", filename)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

func (db *DB) CountUploads() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM uploads").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
