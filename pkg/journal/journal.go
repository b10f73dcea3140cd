package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/limiter"
	"github.com/charlie0129/freqclamp/pkg/policy"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	at         TEXT NOT NULL,
	cpu        INTEGER NOT NULL,
	suspended  INTEGER NOT NULL,
	overridden INTEGER NOT NULL,
	repaired   INTEGER NOT NULL,
	in_min     INTEGER NOT NULL,
	in_max     INTEGER NOT NULL,
	out_min    INTEGER NOT NULL,
	out_max    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ranges (
	cpu     INTEGER PRIMARY KEY,
	req_min INTEGER NOT NULL,
	req_max INTEGER NOT NULL,
	app_min INTEGER NOT NULL,
	app_max INTEGER NOT NULL
);
`

// Entry is one recorded limiter decision.
type Entry struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
	limiter.Decision
}

// Store keeps limiter decisions and the per-CPU ranges of the governor in
// SQLite.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores d and returns its entry.
func (s *Store) Record(ctx context.Context, d limiter.Decision) (Entry, error) {
	e := Entry{ID: uuid.NewString(), At: time.Now().UTC(), Decision: d}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO decisions(id, at, cpu, suspended, overridden, repaired, in_min, in_max, out_min, out_max)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.At.Format(time.RFC3339Nano), int64(d.In.CPU), boolToInt(d.Suspended), boolToInt(d.Overridden), boolToInt(d.Repaired),
		int64(d.In.Min), int64(d.In.Max), int64(d.Out.Min), int64(d.Out.Max))
	if err != nil {
		return e, fmt.Errorf("insert decision: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, at, cpu, suspended, overridden, repaired, in_min, in_max, out_min, out_max
FROM decisions ORDER BY rowid DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                               Entry
			at                              string
			cpu                             uint
			suspended, overridden, repaired int
			inMin, inMax, outMin, outMax    uint32
		)
		if err := rows.Scan(&e.ID, &at, &cpu, &suspended, &overridden, &repaired, &inMin, &inMax, &outMin, &outMax); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse decision time: %w", err)
		}
		e.Suspended = suspended != 0
		e.Overridden = overridden != 0
		e.Repaired = repaired != 0
		e.In = policy.Policy{CPU: cpu, Min: policy.Frequency(inMin), Max: policy.Frequency(inMax)}
		e.Out = policy.Policy{CPU: cpu, Min: policy.Frequency(outMin), Max: policy.Frequency(outMax)}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep entries and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM decisions WHERE id NOT IN (
	SELECT id FROM decisions ORDER BY rowid DESC LIMIT ?
)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return res.RowsAffected()
}

var _ cpufreq.StateStore = (*Store)(nil)

// SaveRange replaces the saved ranges of one CPU.
func (s *Store) SaveRange(ctx context.Context, sv cpufreq.Saved) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ranges(cpu, req_min, req_max, app_min, app_max) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(cpu) DO UPDATE SET
	req_min = excluded.req_min, req_max = excluded.req_max,
	app_min = excluded.app_min, app_max = excluded.app_max
`, int64(sv.CPU), int64(sv.Requested.Min), int64(sv.Requested.Max), int64(sv.Applied.Min), int64(sv.Applied.Max))
	if err != nil {
		return fmt.Errorf("save range of cpu %d: %w", sv.CPU, err)
	}
	return nil
}

// LoadRanges returns every saved range keyed by CPU.
func (s *Store) LoadRanges(ctx context.Context) (map[uint]cpufreq.Saved, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cpu, req_min, req_max, app_min, app_max FROM ranges`)
	if err != nil {
		return nil, fmt.Errorf("query ranges: %w", err)
	}
	defer rows.Close()

	out := map[uint]cpufreq.Saved{}
	for rows.Next() {
		var (
			cpu                            uint
			reqMin, reqMax, appMin, appMax uint32
		)
		if err := rows.Scan(&cpu, &reqMin, &reqMax, &appMin, &appMax); err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		out[cpu] = cpufreq.Saved{
			CPU:       cpu,
			Requested: policy.Policy{CPU: cpu, Min: policy.Frequency(reqMin), Max: policy.Frequency(reqMax)},
			Applied:   policy.Policy{CPU: cpu, Min: policy.Frequency(appMin), Max: policy.Frequency(appMax)},
		}
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
