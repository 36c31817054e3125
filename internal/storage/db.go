package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("storage")

const DefaultHistoryLimit = 50

// Play is one successfully acquired track.
type Play struct {
	ID        int64     `json:"id"`
	MediaID   string    `json:"media_id"`
	Title     string    `json:"title"`
	Reference string    `json:"reference"`
	Requester string    `json:"requester"`
	Room      string    `json:"room,omitempty"`
	FromCache bool      `json:"from_cache"`
	PlayedAt  time.Time `json:"played_at"`
}

// DB wraps the SQLite play history of a peer.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the history database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS plays (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			media_id   TEXT NOT NULL,
			title      TEXT DEFAULT '',
			reference  TEXT DEFAULT '',
			requester  TEXT DEFAULT '',
			from_cache INTEGER DEFAULT 0,
			played_at  INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create plays table: %w", err)
	}

	// Migration: add room column if missing (existing databases)
	db.Exec(`ALTER TABLE plays ADD COLUMN room TEXT DEFAULT ''`)

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS plays_played_at ON plays (played_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create plays index: %w", err)
	}

	log.Debugf("opened history database %s", path)
	return &DB{db: db, path: path}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string { return d.path }

// RecordPlay appends p. A zero PlayedAt is stamped with the current time.
func (d *DB) RecordPlay(p Play) (int64, error) {
	if p.MediaID == "" {
		return 0, fmt.Errorf("record play: media id is required")
	}
	if p.PlayedAt.IsZero() {
		p.PlayedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		`INSERT INTO plays (media_id, title, reference, requester, room, from_cache, played_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.MediaID, p.Title, p.Reference, p.Requester, p.Room, p.FromCache, p.PlayedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("record play: %w", err)
	}
	return res.LastInsertId()
}

// RecentPlays returns up to limit plays, most recent first.
func (d *DB) RecentPlays(limit int) ([]Play, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(
		`SELECT id, media_id, title, reference, requester, room, from_cache, played_at
		 FROM plays ORDER BY played_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	out := []Play{}
	for rows.Next() {
		var p Play
		var fromCache int
		var playedAt int64
		if err := rows.Scan(&p.ID, &p.MediaID, &p.Title, &p.Reference, &p.Requester, &p.Room, &fromCache, &playedAt); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		p.FromCache = fromCache != 0
		p.PlayedAt = time.UnixMilli(playedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PlayCount reports how often mediaID has been acquired.
func (d *DB) PlayCount(mediaID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM plays WHERE media_id = ?`, mediaID).Scan(&n)
	return n, err
}

// ClearHistory deletes every recorded play.
func (d *DB) ClearHistory() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM plays`)
	return err
}
