// Package snapshot persists engine snapshots in a SQLite database so a long
// run can be checkpointed and continued later.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tetsim/tetsim/sim"
)

// ErrNotFound is returned when no snapshot matches.
var ErrNotFound = errors.New("snapshot not found")

// Entry describes a stored snapshot without its counts.
type Entry struct {
	ID          int64
	Label       string
	Created     time.Time
	Time        float64
	Steps       uint64
	Fingerprint string
	Tets        int
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores snap under label and returns its id.
func (s *Store) Save(ctx context.Context, label string, snap *sim.Snapshot) (int64, error) {
	species, err := json.Marshal(snap.Species)
	if err != nil {
		return 0, fmt.Errorf("failed to encode species: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (label, created_at, sim_time, steps, fingerprint, species, tets, counts, clamped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		label, time.Now().UTC().Format(time.RFC3339Nano), snap.Time, int64(snap.Steps), snap.Fingerprint,
		string(species), snap.Tets, encodeCounts(snap.Counts), encodeFlags(snap.Clamped))
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// Load returns the snapshot with the given id.
func (s *Store) Load(ctx context.Context, id int64) (*sim.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, snap, err := s.scanOne(s.db.QueryRowContext(ctx, selectFull+` WHERE id = ?`, id))
	return snap, err
}

// Latest returns the most recent snapshot, restricted to fingerprint when
// it is non-empty.
func (s *Store) Latest(ctx context.Context, fingerprint string) (Entry, *sim.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fingerprint == "" {
		return s.scanOne(s.db.QueryRowContext(ctx, selectFull+` ORDER BY id DESC LIMIT 1`))
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectFull+` WHERE fingerprint = ? ORDER BY id DESC LIMIT 1`, fingerprint))
}

// List returns every stored snapshot, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, created_at, sim_time, steps, fingerprint, tets FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			created string
			steps   int64
		)
		if err := rows.Scan(&e.ID, &e.Label, &created, &e.Time, &steps, &e.Fingerprint, &e.Tets); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		e.Steps = uint64(steps)
		e.Created, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a snapshot.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %d: %w", id, ErrNotFound)
	}
	return nil
}

const selectFull = `SELECT id, label, created_at, sim_time, steps, fingerprint, species, tets, counts, clamped FROM snapshots`

func (s *Store) scanOne(row *sql.Row) (Entry, *sim.Snapshot, error) {
	var (
		e               Entry
		created         string
		steps           int64
		species         string
		counts, clamped []byte
	)
	err := row.Scan(&e.ID, &e.Label, &created, &e.Time, &steps, &e.Fingerprint, &species, &e.Tets, &counts, &clamped)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, nil, ErrNotFound
	}
	if err != nil {
		return Entry{}, nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	e.Steps = uint64(steps)
	e.Created, _ = time.Parse(time.RFC3339Nano, created)

	snap := &sim.Snapshot{Time: e.Time, Steps: e.Steps, Tets: e.Tets, Fingerprint: e.Fingerprint}
	if err := json.Unmarshal([]byte(species), &snap.Species); err != nil {
		return Entry{}, nil, fmt.Errorf("snapshot %d: failed to decode species: %w", e.ID, err)
	}
	if snap.Counts, err = decodeCounts(counts, e.Tets*len(snap.Species)); err != nil {
		return Entry{}, nil, fmt.Errorf("snapshot %d: %w", e.ID, err)
	}
	snap.Clamped = decodeFlags(clamped)
	if len(snap.Clamped) != len(snap.Counts) {
		return Entry{}, nil, fmt.Errorf("snapshot %d: %d clamp flags for %d counts", e.ID, len(snap.Clamped), len(snap.Counts))
	}
	return e, snap, nil
}

func encodeCounts(counts []int64) []byte {
	buf := make([]byte, 0, len(counts)*2)
	for _, n := range counts {
		buf = binary.AppendUvarint(buf, uint64(n))
	}
	return buf
}

func decodeCounts(buf []byte, n int) ([]int64, error) {
	counts := make([]int64, 0, n)
	for len(buf) > 0 {
		v, k := binary.Uvarint(buf)
		if k <= 0 {
			return nil, fmt.Errorf("corrupt counts at entry %d", len(counts))
		}
		counts = append(counts, int64(v))
		buf = buf[k:]
	}
	if len(counts) != n {
		return nil, fmt.Errorf("decoded %d counts, expected %d", len(counts), n)
	}
	return counts, nil
}

func encodeFlags(flags []bool) []byte {
	buf := make([]byte, len(flags))
	for i, f := range flags {
		if f {
			buf[i] = 1
		}
	}
	return buf
}

func decodeFlags(buf []byte) []bool {
	flags := make([]bool, len(buf))
	for i, b := range buf {
		flags[i] = b != 0
	}
	return flags
}
