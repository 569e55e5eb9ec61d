package fetchlog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one recorded fetch attempt ready for insertion.
type Entry struct {
	ID          string `json:"id"`
	TsNs        int64  `json:"ts_ns"`
	Land        int    `json:"land"`
	DurationNs  int64  `json:"duration_ns"`
	Outcome     string `json:"outcome"`
	HTTPStatus  int    `json:"http_status"`
	ProxyServer string `json:"proxy_server"`
	ContentHash string `json:"content_hash"`
}

// Filter specifies query filters for listing attempts.
type Filter struct {
	Land    int    // 0 means any land
	Outcome string // "" means any outcome
	Before  int64  // ts_ns < Before (0 means no upper bound)
	After   int64  // ts_ns > After (0 means no lower bound)
	Limit   int
	Offset  int
}

// Repo manages rolling SQLite databases for fetch attempt logs. Each DB is
// named fetch_logs-<unix_ms>.db and lives in logDir; the active one rotates
// out once its file set grows past maxBytes.
type Repo struct {
	logDir      string
	maxBytes    int64
	retainCount int

	activeDB   *sql.DB
	activePath string
}

// NewRepo creates a Repo over logDir. maxBytes controls when the active DB
// rotates; retainCount sets how many historical DB files are kept.
func NewRepo(logDir string, maxBytes int64, retainCount int) *Repo {
	if maxBytes <= 0 {
		maxBytes = 128 * 1024 * 1024
	}
	if retainCount <= 0 {
		retainCount = 5
	}
	return &Repo{
		logDir:      logDir,
		maxBytes:    maxBytes,
		retainCount: retainCount,
	}
}

// Open opens (or creates) the active fetch log database. The latest existing
// DB in the directory is reused as active; a new one is created only when
// none is found.
func (r *Repo) Open() error {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return fmt.Errorf("fetchlog: mkdir %s: %w", r.logDir, err)
	}

	files, err := r.listDBFiles()
	if err != nil {
		return fmt.Errorf("fetchlog: open: %w", err)
	}

	if len(files) > 0 {
		latest := files[len(files)-1]
		db, err := openDB(latest)
		if err != nil {
			return err
		}
		r.activeDB = db
		r.activePath = latest
		return r.cleanup()
	}
	return r.rotateDB()
}

// Close closes the active DB.
func (r *Repo) Close() error {
	if r.activeDB != nil {
		err := r.activeDB.Close()
		r.activeDB = nil
		r.activePath = ""
		return err
	}
	return nil
}

// InsertBatch inserts a batch of attempts in one transaction. Returns the
// number of rows inserted; individual row failures are skipped.
func (r *Repo) InsertBatch(entries []Entry) (int, error) {
	if r.activeDB == nil {
		return 0, fmt.Errorf("fetchlog: no active db")
	}
	if err := r.maybeRotate(); err != nil {
		return 0, fmt.Errorf("fetchlog: rotate: %w", err)
	}

	tx, err := r.activeDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("fetchlog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO fetch_attempts (
		id, ts_ns, land, duration_ns, outcome, http_status, proxy_server, content_hash
	) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("fetchlog: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range entries {
		e := &entries[i]
		if _, err := stmt.Exec(
			e.ID, e.TsNs, e.Land, e.DurationNs,
			e.Outcome, e.HTTPStatus, e.ProxyServer, e.ContentHash,
		); err != nil {
			log.Printf("[fetchlog] warning: skip row id=%q insert failed: %v", e.ID, err)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("fetchlog: commit: %w", err)
	}
	return inserted, nil
}

// List queries every retained DB and returns matching attempts ordered by
// ts_ns DESC, ties broken by id ASC.
func (r *Repo) List(f Filter) ([]Entry, error) {
	files, err := r.listDBFiles()
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	// Per-DB fetch must cover limit+offset rows: attempt ts_ns can be
	// out of order relative to DB filename time, so the sort is global.
	fetchLimit := limit + offset
	var results []Entry
	for i := len(files) - 1; i >= 0; i-- {
		db, err := r.openReadOnly(files[i])
		if err != nil {
			log.Printf("[fetchlog] warning: list open db failed path=%q: %v", files[i], err)
			continue
		}
		rows, err := r.queryAttempts(db, f, fetchLimit)
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("[fetchlog] warning: list close db failed path=%q: %v", files[i], closeErr)
		}
		if err != nil {
			log.Printf("[fetchlog] warning: list query failed path=%q: %v", files[i], err)
			continue
		}
		results = append(results, rows...)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TsNs != results[j].TsNs {
			return results[i].TsNs > results[j].TsNs
		}
		return results[i].ID < results[j].ID
	})
	if offset >= len(results) {
		return nil, nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *Repo) rotateDB() error {
	if r.activeDB != nil {
		r.activeDB.Close()
		r.activeDB = nil
	}
	name := fmt.Sprintf("fetch_logs-%d.db", time.Now().UnixMilli())
	path := filepath.Join(r.logDir, name)
	db, err := openDB(path)
	if err != nil {
		return fmt.Errorf("fetchlog: rotate: %w", err)
	}
	r.activeDB = db
	r.activePath = path
	return r.cleanup()
}

func (r *Repo) maybeRotate() error {
	if r.activePath == "" {
		return r.rotateDB()
	}
	totalSize, err := sqliteFilesSize(r.activePath)
	if err != nil {
		log.Printf("[fetchlog] warning: stat active db failed path=%q: %v", r.activePath, err)
		return nil // can't stat; skip rotation check
	}
	if totalSize >= r.maxBytes {
		return r.rotateDB()
	}
	return nil
}

func (r *Repo) cleanup() error {
	files, err := r.listDBFiles()
	if err != nil {
		return err
	}
	if len(files) <= r.retainCount {
		return nil
	}
	for _, f := range files[:len(files)-r.retainCount] {
		os.Remove(f)
		os.Remove(f + "-wal")
		os.Remove(f + "-shm")
	}
	return nil
}

func (r *Repo) listDBFiles() ([]string, error) {
	entries, err := os.ReadDir(r.logDir)
	if err != nil {
		return nil, fmt.Errorf("fetchlog: list dir %s: %w", r.logDir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "fetch_logs-") && strings.HasSuffix(name, ".db") {
			files = append(files, filepath.Join(r.logDir, name))
		}
	}
	sort.Strings(files) // lexicographic sort == chronological for our naming
	return files, nil
}

func (r *Repo) openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (r *Repo) queryAttempts(db *sql.DB, f Filter, limit int) ([]Entry, error) {
	var where []string
	var args []interface{}

	if f.Land > 0 {
		where = append(where, "land = ?")
		args = append(args, f.Land)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if f.Before > 0 {
		where = append(where, "ts_ns < ?")
		args = append(args, f.Before)
	}
	if f.After > 0 {
		where = append(where, "ts_ns > ?")
		args = append(args, f.After)
	}

	q := "SELECT id, ts_ns, land, duration_ns, outcome, http_status, proxy_server, content_hash FROM fetch_attempts"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.TsNs, &e.Land, &e.DurationNs,
			&e.Outcome, &e.HTTPStatus, &e.ProxyServer, &e.ContentHash,
		); err != nil {
			log.Printf("[fetchlog] warning: skip malformed row during scan: %v", err)
			continue
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// sqliteFilesSize returns the total size of a SQLite database set: base db
// file plus optional -wal and -shm sidecars.
func sqliteFilesSize(basePath string) (int64, error) {
	var total int64
	for _, p := range []string{basePath, basePath + "-wal", basePath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
