// Package store is the durable home of the ledger: one SQLite database,
// written one operation per transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"duzzle.ai/internal/ledger"
)

const metaKey = "ledger"

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	// The ledger is authoritative, so every commit is synced.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Commit writes one operation's changes atomically.
func (s *SQLite) Commit(ctx context.Context, c *ledger.Changes) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return writeChanges(ctx, tx, c) })
}

// Replace swaps the whole ledger for c. Events at or after c's event cursor
// are dropped; earlier history is kept.
func (s *SQLite) Replace(ctx context.Context, c *ledger.Changes) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"pools", "balances", "seasons", "season_resources", "zones", "zone_requirements", "pieces", "piece_balances", "roles"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE seq >= ?`, int64(c.Meta.NextEvent)); err != nil {
			return fmt.Errorf("trim events: %w", err)
		}
		return writeChanges(ctx, tx, c)
	})
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func writeChanges(ctx context.Context, tx *sql.Tx, c *ledger.Changes) error {
	meta, err := json.Marshal(c.Meta)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, metaKey, string(meta)); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	for _, p := range c.Pools {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pools(id,name,symbol,cap,minted,burned,season) VALUES(?,?,?,?,?,?,?)`,
			p.ID.Hex(), p.Name, p.Symbol, int64(p.Cap), int64(p.Minted), int64(p.Burned), p.Season,
		); err != nil {
			return fmt.Errorf("pool %s: %w", p.ID.Hex(), err)
		}
	}
	for _, b := range c.Balances {
		var err error
		if b.Amount == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM balances WHERE resource=? AND account=?`, b.Resource.Hex(), b.Account.Hex())
		} else {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO balances(resource,account,amount) VALUES(?,?,?)`,
				b.Resource.Hex(), b.Account.Hex(), int64(b.Amount))
		}
		if err != nil {
			return fmt.Errorf("balance %s/%s: %w", b.Resource.Hex(), b.Account.Hex(), err)
		}
	}
	for _, se := range c.Seasons {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO seasons(idx,existing,total_pieces,opened_at) VALUES(?,?,?,?)`,
			se.Index, se.Existing, int64(se.TotalPieces), se.OpenedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("season %d: %w", se.Index, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM season_resources WHERE season=?`, se.Index); err != nil {
			return err
		}
		for i, id := range se.Resources {
			if _, err := tx.ExecContext(ctx, `INSERT INTO season_resources(season,pos,resource) VALUES(?,?,?)`, se.Index, i, id.Hex()); err != nil {
				return fmt.Errorf("season %d resource %d: %w", se.Index, i, err)
			}
		}
	}
	for _, z := range c.Zones {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO zones(season,zone,piece_count,minted) VALUES(?,?,?,?)`,
			z.Season, z.Index, int64(z.PieceCount), int64(z.Minted),
		); err != nil {
			return fmt.Errorf("zone %d/%d: %w", z.Season, z.Index, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM zone_requirements WHERE season=? AND zone=?`, z.Season, z.Index); err != nil {
			return err
		}
		for i, r := range z.Requirements {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zone_requirements(season,zone,pos,resource,amount) VALUES(?,?,?,?,?)`,
				z.Season, z.Index, i, r.Resource.Hex(), int64(r.Amount),
			); err != nil {
				return fmt.Errorf("zone %d/%d requirement %d: %w", z.Season, z.Index, i, err)
			}
		}
	}
	for _, p := range c.Pieces {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pieces(id,owner,approved,season,zone,content_ref) VALUES(?,?,?,?,?,?)`,
			int64(p.ID), p.Owner.Hex(), p.Approved.Hex(), p.Season, p.Zone, p.ContentRef,
		); err != nil {
			return fmt.Errorf("piece %d: %w", p.ID, err)
		}
	}
	for _, pb := range c.PieceBalances {
		var err error
		if pb.Count == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM piece_balances WHERE account=?`, pb.Account.Hex())
		} else {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO piece_balances(account,count) VALUES(?,?)`, pb.Account.Hex(), int64(pb.Count))
		}
		if err != nil {
			return fmt.Errorf("piece balance %s: %w", pb.Account.Hex(), err)
		}
	}
	for _, r := range c.Roles {
		var err error
		if r.Granted {
			_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(role,account) VALUES(?,?)`, r.Role.Hex(), r.Account.Hex())
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM roles WHERE role=? AND account=?`, r.Role.Hex(), r.Account.Hex())
		}
		if err != nil {
			return fmt.Errorf("role %s/%s: %w", r.Role.Hex(), r.Account.Hex(), err)
		}
	}
	for _, e := range c.Events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(seq,kind,topic,season,body) VALUES(?,?,?,?,?)`,
			int64(e.Seq), string(e.Kind), e.Topic.Hex(), e.Season, string(e.Body),
		); err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Load reads the whole ledger. A fresh database yields an empty, uninitialized
// State.
func (s *SQLite) Load(ctx context.Context) (*ledger.State, error) {
	st := ledger.NewState()

	var raw string
	switch err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, metaKey).Scan(&raw); {
	case err == sql.ErrNoRows:
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("meta: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st.Meta); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}

	if err := s.each(ctx, `SELECT id,name,symbol,cap,minted,burned,season FROM pools`, func(rows *sql.Rows) error {
		var (
			p                   ledger.Pool
			id                  string
			capv, minted, burnt int64
		)
		if err := rows.Scan(&id, &p.Name, &p.Symbol, &capv, &minted, &burnt, &p.Season); err != nil {
			return err
		}
		p.ID = common.HexToAddress(id)
		p.Cap, p.Minted, p.Burned = uint64(capv), uint64(minted), uint64(burnt)
		st.Pools[p.ID] = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("pools: %w", err)
	}

	if err := s.each(ctx, `SELECT resource,account,amount FROM balances`, func(rows *sql.Rows) error {
		var res, acct string
		var amount int64
		if err := rows.Scan(&res, &acct, &amount); err != nil {
			return err
		}
		st.Balances[ledger.BalanceKey{Resource: common.HexToAddress(res), Account: common.HexToAddress(acct)}] = uint64(amount)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}

	if err := s.each(ctx, `SELECT idx,existing,total_pieces,opened_at FROM seasons`, func(rows *sql.Rows) error {
		var (
			se       ledger.Season
			total    int64
			openedAt string
		)
		if err := rows.Scan(&se.Index, &se.Existing, &total, &openedAt); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, openedAt)
		if err != nil {
			return err
		}
		se.TotalPieces, se.OpenedAt = uint64(total), t
		st.Seasons[se.Index] = se
		return nil
	}); err != nil {
		return nil, fmt.Errorf("seasons: %w", err)
	}
	if err := s.each(ctx, `SELECT season,resource FROM season_resources ORDER BY season,pos`, func(rows *sql.Rows) error {
		var idx int
		var res string
		if err := rows.Scan(&idx, &res); err != nil {
			return err
		}
		se, ok := st.Seasons[idx]
		if !ok {
			return fmt.Errorf("resource row for missing season %d", idx)
		}
		se.Resources = append(se.Resources, common.HexToAddress(res))
		st.Seasons[idx] = se
		return nil
	}); err != nil {
		return nil, fmt.Errorf("season resources: %w", err)
	}

	if err := s.each(ctx, `SELECT season,zone,piece_count,minted FROM zones`, func(rows *sql.Rows) error {
		var z ledger.Zone
		var count, minted int64
		if err := rows.Scan(&z.Season, &z.Index, &count, &minted); err != nil {
			return err
		}
		z.PieceCount, z.Minted = uint64(count), uint64(minted)
		st.Zones[ledger.ZoneKey{Season: z.Season, Zone: z.Index}] = z
		return nil
	}); err != nil {
		return nil, fmt.Errorf("zones: %w", err)
	}
	if err := s.each(ctx, `SELECT season,zone,resource,amount FROM zone_requirements ORDER BY season,zone,pos`, func(rows *sql.Rows) error {
		var k ledger.ZoneKey
		var res string
		var amount int64
		if err := rows.Scan(&k.Season, &k.Zone, &res, &amount); err != nil {
			return err
		}
		z, ok := st.Zones[k]
		if !ok {
			return fmt.Errorf("requirement row for missing zone %d/%d", k.Season, k.Zone)
		}
		z.Requirements = append(z.Requirements, ledger.Requirement{Resource: common.HexToAddress(res), Amount: uint64(amount)})
		st.Zones[k] = z
		return nil
	}); err != nil {
		return nil, fmt.Errorf("zone requirements: %w", err)
	}

	if err := s.each(ctx, `SELECT id,owner,approved,season,zone,content_ref FROM pieces`, func(rows *sql.Rows) error {
		var (
			p               ledger.Piece
			id              int64
			owner, approved string
		)
		if err := rows.Scan(&id, &owner, &approved, &p.Season, &p.Zone, &p.ContentRef); err != nil {
			return err
		}
		p.ID, p.Owner, p.Approved = uint64(id), common.HexToAddress(owner), common.HexToAddress(approved)
		st.Pieces[p.ID] = p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("pieces: %w", err)
	}

	if err := s.each(ctx, `SELECT account,count FROM piece_balances`, func(rows *sql.Rows) error {
		var acct string
		var n int64
		if err := rows.Scan(&acct, &n); err != nil {
			return err
		}
		st.PieceBalances[common.HexToAddress(acct)] = uint64(n)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("piece balances: %w", err)
	}

	if err := s.each(ctx, `SELECT role,account FROM roles`, func(rows *sql.Rows) error {
		var role, acct string
		if err := rows.Scan(&role, &acct); err != nil {
			return err
		}
		st.Roles[ledger.RoleKey{Role: common.HexToHash(role), Account: common.HexToAddress(acct)}] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	return st, nil
}

// Events returns up to limit events with seq >= since, oldest first. A
// non-empty kind filters by event kind. limit <= 0 means no limit.
func (s *SQLite) Events(ctx context.Context, since uint64, kind ledger.Kind, limit int) ([]ledger.Event, error) {
	q := `SELECT seq,kind,topic,season,body FROM events WHERE seq >= ?`
	args := []any{int64(since)}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY seq`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []ledger.Event
	err := s.each(ctx, q, func(rows *sql.Rows) error {
		var (
			e           ledger.Event
			seq         int64
			kind, topic string
			body        string
		)
		if err := rows.Scan(&seq, &kind, &topic, &e.Season, &body); err != nil {
			return err
		}
		e.Seq, e.Kind, e.Topic, e.Body = uint64(seq), ledger.Kind(kind), common.HexToHash(topic), json.RawMessage(body)
		out = append(out, e)
		return nil
	}, args...)
	return out, err
}

// Archive is one closed season's exported snapshot.
type Archive struct {
	Season     int
	Path       string
	RecordedAt time.Time
}

func (s *SQLite) RecordArchive(ctx context.Context, a Archive) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO archives(season,path,recorded_at) VALUES(?,?,?)`,
		a.Season, a.Path, a.RecordedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) Archives(ctx context.Context) ([]Archive, error) {
	var out []Archive
	err := s.each(ctx, `SELECT season,path,recorded_at FROM archives ORDER BY season`, func(rows *sql.Rows) error {
		var a Archive
		var at string
		if err := rows.Scan(&a.Season, &a.Path, &at); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return err
		}
		a.RecordedAt = t
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *SQLite) each(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
