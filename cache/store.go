// Package cache persists creator registry reads in a local SQLite database so
// listing views survive provider outages and page reloads. Records carry a
// last-synced timestamp and a TTL; only fresh rows are ever served. Writes are
// best-effort: a storage failure is logged and swallowed so caching can never
// break the read path.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"basetip/creator"
)

// TTLs for the three collections. Slug mappings churn faster than profiles,
// so they expire on a shorter window.
const (
	CreatorTTL = 24 * time.Hour
	SlugTTL    = time.Hour
	StatsTTL   = 24 * time.Hour
)

// Mapping resolves a slug to the creator it was derived from.
type Mapping struct {
	Slug    string
	Address common.Address
	Name    string
}

// Store is the durable cache for creators, slug mappings, and the global
// stats snapshot. It is safe for concurrent use; per-statement atomicity is
// provided by SQLite, there are no cross-call transactions.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
	seq atomic.Uint64
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for swallowed storage errors.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.seedSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS creators (
            address TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            bio TEXT,
            avatar TEXT,
            active INTEGER NOT NULL,
            tips_raw TEXT NOT NULL,
            supporter_count INTEGER NOT NULL,
            tips_usd REAL NOT NULL,
            supporters INTEGER NOT NULL,
            slug TEXT NOT NULL,
            category TEXT,
            suggested TEXT,
            payout TEXT NOT NULL,
            owner TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            source TEXT NOT NULL,
            last_synced INTEGER NOT NULL,
            ttl_ms INTEGER NOT NULL,
            seq INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_creators_slug ON creators(slug);`,
		`CREATE INDEX IF NOT EXISTS idx_creators_synced ON creators(last_synced);`,
		`CREATE TABLE IF NOT EXISTS slug_mappings (
            slug TEXT PRIMARY KEY,
            address TEXT NOT NULL,
            name TEXT NOT NULL,
            last_synced INTEGER NOT NULL,
            ttl_ms INTEGER NOT NULL,
            seq INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS global_stats (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            total_creators INTEGER NOT NULL,
            total_tips REAL NOT NULL,
            total_supporters INTEGER NOT NULL,
            last_synced INTEGER NOT NULL,
            ttl_ms INTEGER NOT NULL,
            seq INTEGER NOT NULL DEFAULT 0
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedSeq resumes the sequence counter from the highest value stored in any
// table, so sequences issued after a restart still outrank the rows persisted
// by the previous process.
func (s *Store) seedSeq() error {
	const stmt = `SELECT COALESCE(MAX(seq), 0) FROM (
            SELECT seq FROM creators
            UNION ALL SELECT seq FROM slug_mappings
            UNION ALL SELECT seq FROM global_stats
        )`
	var max uint64
	if err := s.db.QueryRow(stmt).Scan(&max); err != nil {
		return err
	}
	s.seq.Store(max)
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NextSeq issues a monotonic fetch sequence. Callers obtain one when a fetch
// begins and pass it to the write methods; a write stamped with an older
// sequence than the stored row is rejected, so a slow response can never
// clobber a newer one.
func (s *Store) NextSeq() uint64 {
	return s.seq.Add(1)
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// PutCreator upserts a single creator record keyed by address.
func (s *Store) PutCreator(ctx context.Context, seq uint64, rec creator.Record) {
	s.PutCreators(ctx, seq, []creator.Record{rec})
}

// PutCreators upserts a batch of creator records, stamping each with the
// current time and the creator TTL. Storage failures are logged, not returned.
func (s *Store) PutCreators(ctx context.Context, seq uint64, recs []creator.Record) {
	const stmt = `INSERT INTO creators(address, name, bio, avatar, active, tips_raw, supporter_count,
            tips_usd, supporters, slug, category, suggested, payout, owner, created_at, updated_at,
            source, last_synced, ttl_ms, seq)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET
            name = excluded.name, bio = excluded.bio, avatar = excluded.avatar,
            active = excluded.active, tips_raw = excluded.tips_raw,
            supporter_count = excluded.supporter_count, tips_usd = excluded.tips_usd,
            supporters = excluded.supporters, slug = excluded.slug,
            category = excluded.category, suggested = excluded.suggested,
            payout = excluded.payout, owner = excluded.owner,
            created_at = excluded.created_at, updated_at = excluded.updated_at,
            source = excluded.source, last_synced = excluded.last_synced,
            ttl_ms = excluded.ttl_ms, seq = excluded.seq
        WHERE excluded.seq >= creators.seq`
	now := s.nowMillis()
	for _, rec := range recs {
		suggested, err := json.Marshal(rec.SuggestedAmounts)
		if err != nil {
			suggested = []byte("[]")
		}
		tipsRaw := "0"
		if rec.TipsReceivedRaw != nil {
			tipsRaw = rec.TipsReceivedRaw.String()
		}
		active := 0
		if rec.Active {
			active = 1
		}
		updated := rec.UpdatedAt
		if updated.IsZero() {
			updated = s.now()
		}
		_, err = s.db.ExecContext(ctx, stmt,
			hexAddr(rec.Address), rec.Name, rec.Bio, rec.Avatar, active, tipsRaw,
			int64(rec.SupporterCount), rec.TipsReceived, rec.Supporters, rec.Slug,
			rec.Category, string(suggested), hexAddr(rec.PayoutAddress), hexAddr(rec.OwnerAddress),
			rec.CreatedAt.UnixMilli(), updated.UnixMilli(), string(rec.Source),
			now, CreatorTTL.Milliseconds(), seq)
		if err != nil {
			s.log.Warn("cache: creator write failed", "address", hexAddr(rec.Address), "err", err)
		}
	}
}

const creatorColumns = `address, name, bio, avatar, active, tips_raw, supporter_count,
    tips_usd, supporters, slug, category, suggested, payout, owner, created_at, updated_at, source`

// FreshCreators returns every creator record whose freshness window has not
// elapsed. Ordering is unspecified. A read failure degrades to an empty list.
func (s *Store) FreshCreators(ctx context.Context) []creator.Record {
	query := `SELECT ` + creatorColumns + ` FROM creators WHERE ? - last_synced <= ttl_ms`
	rows, err := s.db.QueryContext(ctx, query, s.nowMillis())
	if err != nil {
		s.log.Warn("cache: creator read failed", "err", err)
		return nil
	}
	defer rows.Close()
	var out []creator.Record
	for rows.Next() {
		rec, err := scanCreator(rows)
		if err != nil {
			s.log.Warn("cache: creator scan failed", "err", err)
			return nil
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("cache: creator read failed", "err", err)
		return nil
	}
	return out
}

// CreatorBySlug returns the single fresh record matching slug. When multiple
// records share a slug the most recently synced one wins.
func (s *Store) CreatorBySlug(ctx context.Context, slug string) (creator.Record, bool) {
	query := `SELECT ` + creatorColumns + ` FROM creators
        WHERE slug = ? AND ? - last_synced <= ttl_ms
        ORDER BY last_synced DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, slug, s.nowMillis())
	rec, err := scanCreator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return creator.Record{}, false
	}
	if err != nil {
		s.log.Warn("cache: creator read failed", "slug", slug, "err", err)
		return creator.Record{}, false
	}
	return rec, true
}

// CreatorByAddress returns the fresh record for an address, if cached.
func (s *Store) CreatorByAddress(ctx context.Context, addr common.Address) (creator.Record, bool) {
	query := `SELECT ` + creatorColumns + ` FROM creators
        WHERE address = ? AND ? - last_synced <= ttl_ms`
	row := s.db.QueryRowContext(ctx, query, hexAddr(addr), s.nowMillis())
	rec, err := scanCreator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return creator.Record{}, false
	}
	if err != nil {
		s.log.Warn("cache: creator read failed", "address", hexAddr(addr), "err", err)
		return creator.Record{}, false
	}
	return rec, true
}

// PutSlugMapping upserts a slug resolution with the short slug TTL.
func (s *Store) PutSlugMapping(ctx context.Context, seq uint64, m Mapping) {
	const stmt = `INSERT INTO slug_mappings(slug, address, name, last_synced, ttl_ms, seq)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(slug) DO UPDATE SET
            address = excluded.address, name = excluded.name,
            last_synced = excluded.last_synced, ttl_ms = excluded.ttl_ms, seq = excluded.seq
        WHERE excluded.seq >= slug_mappings.seq`
	_, err := s.db.ExecContext(ctx, stmt, m.Slug, hexAddr(m.Address), m.Name,
		s.nowMillis(), SlugTTL.Milliseconds(), seq)
	if err != nil {
		s.log.Warn("cache: slug mapping write failed", "slug", m.Slug, "err", err)
	}
}

// SlugMapping resolves slug if a fresh mapping exists.
func (s *Store) SlugMapping(ctx context.Context, slug string) (Mapping, bool) {
	const query = `SELECT slug, address, name FROM slug_mappings
        WHERE slug = ? AND ? - last_synced <= ttl_ms`
	row := s.db.QueryRowContext(ctx, query, slug, s.nowMillis())
	var m Mapping
	var addr string
	err := row.Scan(&m.Slug, &addr, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, false
	}
	if err != nil {
		s.log.Warn("cache: slug mapping read failed", "slug", slug, "err", err)
		return Mapping{}, false
	}
	m.Address = common.HexToAddress(addr)
	return m, true
}

// PutGlobalStats upserts the singleton aggregate snapshot.
func (s *Store) PutGlobalStats(ctx context.Context, seq uint64, stats creator.GlobalStats) {
	const stmt = `INSERT INTO global_stats(id, total_creators, total_tips, total_supporters, last_synced, ttl_ms, seq)
        VALUES (1, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            total_creators = excluded.total_creators, total_tips = excluded.total_tips,
            total_supporters = excluded.total_supporters, last_synced = excluded.last_synced,
            ttl_ms = excluded.ttl_ms, seq = excluded.seq
        WHERE excluded.seq >= global_stats.seq`
	_, err := s.db.ExecContext(ctx, stmt, stats.TotalCreators, stats.TotalTips,
		stats.TotalSupporters, s.nowMillis(), StatsTTL.Milliseconds(), seq)
	if err != nil {
		s.log.Warn("cache: stats write failed", "err", err)
	}
}

// FreshGlobalStats returns the snapshot if it is still fresh.
func (s *Store) FreshGlobalStats(ctx context.Context) (creator.GlobalStats, bool) {
	const query = `SELECT total_creators, total_tips, total_supporters FROM global_stats
        WHERE id = 1 AND ? - last_synced <= ttl_ms`
	row := s.db.QueryRowContext(ctx, query, s.nowMillis())
	var stats creator.GlobalStats
	err := row.Scan(&stats.TotalCreators, &stats.TotalTips, &stats.TotalSupporters)
	if errors.Is(err, sql.ErrNoRows) {
		return creator.GlobalStats{}, false
	}
	if err != nil {
		s.log.Warn("cache: stats read failed", "err", err)
		return creator.GlobalStats{}, false
	}
	return stats, true
}

// SweepExpired deletes every row, across all three collections, whose
// freshness window has elapsed. It is idempotent and a no-op on an empty
// store. Returns the number of rows removed.
func (s *Store) SweepExpired(ctx context.Context) int64 {
	now := s.nowMillis()
	var removed int64
	for _, table := range []string{"creators", "slug_mappings", "global_stats"} {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE ? - last_synced > ttl_ms`, now)
		if err != nil {
			s.log.Warn("cache: sweep failed", "table", table, "err", err)
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCreator(row rowScanner) (creator.Record, error) {
	var (
		rec                                  creator.Record
		addr, payout, owner, tipsRaw, source string
		suggested                            sql.NullString
		active                               int
		supporterCount, createdAt, updatedAt int64
	)
	err := row.Scan(&addr, &rec.Name, &rec.Bio, &rec.Avatar, &active, &tipsRaw,
		&supporterCount, &rec.TipsReceived, &rec.Supporters, &rec.Slug, &rec.Category,
		&suggested, &payout, &owner, &createdAt, &updatedAt, &source)
	if err != nil {
		return creator.Record{}, err
	}
	rec.Address = common.HexToAddress(addr)
	rec.PayoutAddress = common.HexToAddress(payout)
	rec.OwnerAddress = common.HexToAddress(owner)
	rec.Active = active == 1
	rec.SupporterCount = uint64(supporterCount)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	rec.Source = creator.Source(source)
	raw, ok := new(big.Int).SetString(tipsRaw, 10)
	if !ok {
		raw = new(big.Int)
	}
	rec.TipsReceivedRaw = raw
	if suggested.Valid && suggested.String != "" {
		if err := json.Unmarshal([]byte(suggested.String), &rec.SuggestedAmounts); err != nil {
			rec.SuggestedAmounts = nil
		}
	}
	return rec, nil
}

func hexAddr(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
