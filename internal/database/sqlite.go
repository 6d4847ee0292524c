package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/tomerIQ713/File-Transfer/internal/model"
)

// Sentinel errors returned by Store lookups and inserts. Callers are
// expected to check them with errors.Is.
var (
	ErrNotFound = errors.New("database: not found")
	ErrExists   = errors.New("database: already exists")
)

// Store wraps a SQLite connection holding the users and files tables.
// The server opens two of these against the same file: a read handle used
// directly by request handlers, and a write handle owned exclusively by the
// write serializer.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens and configures a SQLite database connection.
// path can be a file path or ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; cap the pool so every
	// query sees the same one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// The read and write handles target the same file; wait for locks
	// instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// User operations

func (s *Store) GetUser(username string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT username, password_hash FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

func (s *Store) AddUser(username, passwordHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash,
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("user %q: %w", username, ErrExists)
		}
		return fmt.Errorf("adding user: %w", err)
	}
	return nil
}

// RemoveUser deletes a user; the files table cascades on the uploader
// foreign key. Removing an unknown user is a silent no-op.
func (s *Store) RemoveUser(username string) error {
	if _, err := s.db.Exec(`DELETE FROM users WHERE username = ?`, username); err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	return nil
}

// GetAllMatchingUsers returns usernames matching the search key: names
// starting with the key first (alphabetically), then names merely containing
// it (alphabetically). With excludeSubstring set, only prefix matches are
// returned.
func (s *Store) GetAllMatchingUsers(searchKey string, excludeSubstring bool) ([]string, error) {
	prefix, err := s.queryUsernames(
		`SELECT username FROM users WHERE username LIKE ? ORDER BY username`,
		searchKey+"%",
	)
	if err != nil {
		return nil, err
	}
	if excludeSubstring {
		return prefix, nil
	}

	contains, err := s.queryUsernames(
		`SELECT username FROM users WHERE username LIKE ? AND username NOT LIKE ? ORDER BY username`,
		"%"+searchKey+"%", searchKey+"%",
	)
	if err != nil {
		return nil, err
	}
	return append(prefix, contains...), nil
}

func (s *Store) queryUsernames(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	return names, nil
}

// File operations

func (s *Store) GetFile(name, uploader string) (*model.File, error) {
	var f model.File
	err := s.db.QueryRow(
		`SELECT file_name, uploader, file_size_bytes, upload_time, is_public, download_count
		 FROM files WHERE file_name = ? AND uploader = ?`, name, uploader,
	).Scan(&f.Name, &f.Uploader, &f.SizeBytes, &f.UploadTime, &f.IsPublic, &f.DownloadCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %q of %q: %w", name, uploader, ErrNotFound)
		}
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return &f, nil
}

func (s *Store) AddFile(f model.File) error {
	_, err := s.db.Exec(
		`INSERT INTO files (file_name, uploader, file_size_bytes, upload_time, is_public, download_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.Name, f.Uploader, f.SizeBytes, f.UploadTime, f.IsPublic, f.DownloadCount,
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("file %q of %q: %w", f.Name, f.Uploader, ErrExists)
		}
		return fmt.Errorf("adding file: %w", err)
	}
	return nil
}

// DeleteFile removes a file record. Deleting an unknown file is a silent no-op.
func (s *Store) DeleteFile(name, uploader string) error {
	if _, err := s.db.Exec(
		`DELETE FROM files WHERE file_name = ? AND uploader = ?`, name, uploader,
	); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// ChangeFilePublicity sets a file's visibility. A nil newStatus flips the
// current value. Unknown files are a silent no-op.
func (s *Store) ChangeFilePublicity(name, uploader string, newStatus *bool) error {
	var err error
	if newStatus == nil {
		_, err = s.db.Exec(
			`UPDATE files SET is_public = NOT is_public WHERE file_name = ? AND uploader = ?`,
			name, uploader,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE files SET is_public = ? WHERE file_name = ? AND uploader = ?`,
			*newStatus, name, uploader,
		)
	}
	if err != nil {
		return fmt.Errorf("changing file publicity: %w", err)
	}
	return nil
}

// AddDownloadsToFile increments a file's download counter by count.
// Unknown files are a silent no-op.
func (s *Store) AddDownloadsToFile(name, uploader string, count int64) error {
	if _, err := s.db.Exec(
		`UPDATE files SET download_count = download_count + ? WHERE file_name = ? AND uploader = ?`,
		count, name, uploader,
	); err != nil {
		return fmt.Errorf("adding downloads: %w", err)
	}
	return nil
}

// GetAllUserFiles returns all of a user's files, optionally restricted to
// public ones. An unknown user yields an empty slice.
func (s *Store) GetAllUserFiles(uploader string, excludePrivate bool) ([]model.File, error) {
	query := `SELECT file_name, uploader, file_size_bytes, upload_time, is_public, download_count
	          FROM files WHERE uploader = ?`
	if excludePrivate {
		query += ` AND is_public = 1`
	}
	query += ` ORDER BY file_name`

	rows, err := s.db.Query(query, uploader)
	if err != nil {
		return nil, fmt.Errorf("listing user files: %w", err)
	}
	defer rows.Close()

	files := []model.File{}
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.Name, &f.Uploader, &f.SizeBytes, &f.UploadTime, &f.IsPublic, &f.DownloadCount); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing user files: %w", err)
	}
	return files, nil
}

func (s *Store) CountPublicFiles(uploader string) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM files WHERE uploader = ? AND is_public = 1`, uploader,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting public files: %w", err)
	}
	return n, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection for migration checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// isConstraintErr reports whether err is a SQLite constraint violation
// (primary key or foreign key).
func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
