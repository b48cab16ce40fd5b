// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded goose migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies the schema to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, log *slog.Logger) error {
	return db.Migrate(ctx, pool, Migrations(), table, log)
}

// Store is a pgx-backed store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. The pool is closed by Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error { return db.Healthcheck(s.pool)(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const uniqueViolation = "23505"

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Join(store.ErrDuplicate, err)
	}
	return err
}

func exec(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// where accumulates positional conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) page(p store.Page) string {
	if p.After != "" {
		w.add("id > $%d", p.After)
	}
	clause := ""
	if len(w.conds) > 0 {
		clause = " WHERE " + strings.Join(w.conds, " AND ")
	}
	w.args = append(w.args, p.Size())
	return fmt.Sprintf("%s ORDER BY id ASC LIMIT $%d", clause, len(w.args))
}

// domains

const domainColumns = `id, user_id, name, verification_key, ownership, email,
	verified_at, email_verified_at, created_at, updated_at`

func scanDomain(row pgx.Row) (model.CustomDomain, error) {
	var d model.CustomDomain
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.VerificationKey, &d.Ownership, &d.Email,
		&d.VerifiedAt, &d.EmailVerifiedAt, &d.CreatedAt, &d.UpdatedAt)
	return d, mapErr(err)
}

func (s *Store) CreateDomain(ctx context.Context, d model.CustomDomain) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO custom_domains (`+domainColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.Name, d.VerificationKey, d.Ownership, d.Email,
		d.VerifiedAt, d.EmailVerifiedAt, d.CreatedAt, d.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetDomain(ctx context.Context, id string) (model.CustomDomain, error) {
	return scanDomain(s.pool.QueryRow(ctx, `SELECT `+domainColumns+` FROM custom_domains WHERE id = $1`, id))
}

func (s *Store) ListDomains(ctx context.Context, userID string, p store.Page) ([]model.CustomDomain, error) {
	var w where
	if userID != "" {
		w.add("user_id = $%d", userID)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+domainColumns+` FROM custom_domains`+w.page(p), w.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanDomain)
}

func (s *Store) UpdateDomainState(ctx context.Context, next model.CustomDomain, expected model.State) error {
	tag, err := s.pool.Exec(ctx, `UPDATE custom_domains
		SET ownership = $2, email = $3, verified_at = $4, email_verified_at = $5, updated_at = $6
		WHERE id = $1 AND ownership = $7 AND email = $8`,
		next.ID, next.Ownership, next.Email, next.VerifiedAt, next.EmailVerifiedAt, next.UpdatedAt,
		expected.Ownership, expected.Email)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetDomain(ctx, next.ID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM email_aliases WHERE custom_domain_id = $1`, id); err != nil {
			return mapErr(err)
		}
		return exec(ctx, tx, `DELETE FROM custom_domains WHERE id = $1`, id)
	})
}

func (s *Store) VerifiedNameTaken(ctx context.Context, name, exceptUserID string) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM custom_domains WHERE name = $1 AND ownership = 'verified' AND user_id <> $2)`,
		name, exceptUserID).Scan(&taken)
	return taken, mapErr(err)
}

// records

const recordColumns = `id, remote_id, zone_id, zone_name, user_id, custom_domain_id, purpose,
	type, name, content, proxied, ttl, priority, comment, tags, active, modified_at, created_at`

func scanRecord(row pgx.Row) (model.DNSRecord, error) {
	var (
		r        model.DNSRecord
		priority *int32
	)
	err := row.Scan(&r.ID, &r.RemoteID, &r.ZoneID, &r.ZoneName, &r.UserID, &r.CustomDomainID, &r.Purpose,
		&r.Type, &r.Name, &r.Content, &r.Proxied, &r.TTL, &priority, &r.Comment, &r.Tags, &r.Active,
		&r.ModifiedAt, &r.CreatedAt)
	if priority != nil {
		p := uint16(*priority)
		r.Priority = &p
	}
	return r, mapErr(err)
}

func priorityArg(p *uint16) *int32 {
	if p == nil {
		return nil
	}
	v := int32(*p)
	return &v
}

func tagsArg(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func (s *Store) InsertRecord(ctx context.Context, r model.DNSRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO dns_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		r.ID, r.RemoteID, r.ZoneID, r.ZoneName, r.UserID, r.CustomDomainID, r.Purpose,
		r.Type, r.Name, r.Content, r.Proxied, r.TTL, priorityArg(r.Priority), r.Comment, tagsArg(r.Tags), r.Active,
		r.ModifiedAt, r.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetRecord(ctx context.Context, id string) (model.DNSRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM dns_records WHERE id = $1`, id))
}

func (s *Store) UpdateRecord(ctx context.Context, r model.DNSRecord) error {
	return exec(ctx, s.pool, `UPDATE dns_records
		SET remote_id = $2, type = $3, name = $4, content = $5, proxied = $6, ttl = $7,
			priority = $8, comment = $9, tags = $10, modified_at = $11
		WHERE id = $1 AND active`,
		r.ID, r.RemoteID, r.Type, r.Name, r.Content, r.Proxied, r.TTL,
		priorityArg(r.Priority), r.Comment, tagsArg(r.Tags), r.ModifiedAt)
}

func (s *Store) DeactivateRecord(ctx context.Context, id string, at time.Time) error {
	return exec(ctx, s.pool, `UPDATE dns_records SET active = FALSE, modified_at = $2 WHERE id = $1`, id, at)
}

func (s *Store) ListRecords(ctx context.Context, f store.RecordFilter, p store.Page) ([]model.DNSRecord, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = $%d", f.UserID)
	}
	if f.CustomDomainID != "" {
		w.add("custom_domain_id = $%d", f.CustomDomainID)
	}
	if f.ZoneID != "" {
		w.add("zone_id = $%d", f.ZoneID)
	}
	if f.ZoneName != "" {
		w.add("zone_name = $%d", f.ZoneName)
	}
	if f.Purpose != "" {
		w.add("purpose = $%d", string(f.Purpose))
	}
	if f.Type != "" {
		w.add("type = $%d", f.Type)
	}
	if f.Name != "" {
		w.add("name = $%d", f.Name)
	}
	if !f.IncludeInactive {
		w.add("active = $%d", true)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM dns_records`+w.page(p), w.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanRecord)
}

// links

const linkColumns = `id, user_id, prefix, domain, slug, target_url, public, active,
	expires_at, password_hash, dns_record_id, created_at, updated_at`

func scanLink(row pgx.Row) (model.ShortURL, error) {
	var l model.ShortURL
	err := row.Scan(&l.ID, &l.UserID, &l.Prefix, &l.Domain, &l.Slug, &l.TargetURL, &l.Public, &l.Active,
		&l.ExpiresAt, &l.PasswordHash, &l.DNSRecordID, &l.CreatedAt, &l.UpdatedAt)
	return l, mapErr(err)
}

func (s *Store) CreateLink(ctx context.Context, l model.ShortURL) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO short_urls (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.UserID, l.Prefix, l.Domain, l.Slug, l.TargetURL, l.Public, l.Active,
		l.ExpiresAt, l.PasswordHash, l.DNSRecordID, l.CreatedAt, l.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetLink(ctx context.Context, id string) (model.ShortURL, error) {
	return scanLink(s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM short_urls WHERE id = $1`, id))
}

func (s *Store) FindLink(ctx context.Context, prefix, domain, slug string) (model.ShortURL, error) {
	return scanLink(s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM short_urls
		WHERE prefix = $1 AND domain = $2 AND slug = $3`, prefix, domain, slug))
}

func (s *Store) UpdateLink(ctx context.Context, l model.ShortURL) error {
	return exec(ctx, s.pool, `UPDATE short_urls
		SET target_url = $2, public = $3, active = $4, expires_at = $5, password_hash = $6,
			dns_record_id = $7, updated_at = $8
		WHERE id = $1`,
		l.ID, l.TargetURL, l.Public, l.Active, l.ExpiresAt, l.PasswordHash, l.DNSRecordID, l.UpdatedAt)
}

func (s *Store) DeleteLink(ctx context.Context, id string) error {
	return exec(ctx, s.pool, `DELETE FROM short_urls WHERE id = $1`, id)
}

func (s *Store) ListLinks(ctx context.Context, userID string, p store.Page) ([]model.ShortURL, error) {
	var w where
	if userID != "" {
		w.add("user_id = $%d", userID)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+linkColumns+` FROM short_urls`+w.page(p), w.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanLink)
}

func (s *Store) PrefixLinks(ctx context.Context, prefix, domain string, limit int) ([]model.ShortURL, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+linkColumns+` FROM short_urls
		WHERE prefix = $1 AND domain = $2 ORDER BY id ASC LIMIT $3`, prefix, domain, max(limit, 1))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanLink)
}

func (s *Store) DomainLinks(ctx context.Context, domain string, limit int) ([]model.ShortURL, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+linkColumns+` FROM short_urls
		WHERE domain = $1 ORDER BY id ASC LIMIT $2`, domain, max(limit, 1))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanLink)
}

// aliases

const aliasColumns = `id, user_id, custom_domain_id, local_part, destination, active, created_at`

func scanAlias(row pgx.Row) (model.EmailAlias, error) {
	var a model.EmailAlias
	err := row.Scan(&a.ID, &a.UserID, &a.CustomDomainID, &a.LocalPart, &a.Destination, &a.Active, &a.CreatedAt)
	return a, mapErr(err)
}

func (s *Store) CreateAlias(ctx context.Context, a model.EmailAlias) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO email_aliases (`+aliasColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.CustomDomainID, a.LocalPart, a.Destination, a.Active, a.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetAlias(ctx context.Context, id string) (model.EmailAlias, error) {
	return scanAlias(s.pool.QueryRow(ctx, `SELECT `+aliasColumns+` FROM email_aliases WHERE id = $1`, id))
}

func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	return exec(ctx, s.pool, `DELETE FROM email_aliases WHERE id = $1`, id)
}

func (s *Store) ListAliases(ctx context.Context, customDomainID string, p store.Page) ([]model.EmailAlias, error) {
	var w where
	w.add("custom_domain_id = $%d", customDomainID)
	rows, err := s.pool.Query(ctx, `SELECT `+aliasColumns+` FROM email_aliases`+w.page(p), w.args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanAlias)
}

// usage

var countQueries = map[model.ResourceKind]string{
	model.KindCustomDomains: `SELECT count(*) FROM custom_domains WHERE user_id = $1 AND created_at >= $2`,
	model.KindShortLinks:    `SELECT count(*) FROM short_urls WHERE user_id = $1 AND created_at >= $2`,
	model.KindEmailAliases:  `SELECT count(*) FROM email_aliases WHERE user_id = $1 AND created_at >= $2`,
	model.KindDNSRecords: `SELECT count(*) FROM dns_records
		WHERE user_id = $1 AND created_at >= $2 AND active AND purpose = 'user'`,
}

func (s *Store) UserPlan(ctx context.Context, userID string) (string, error) {
	var plan string
	if err := s.pool.QueryRow(ctx, `SELECT plan FROM user_plans WHERE user_id = $1`, userID).Scan(&plan); err != nil {
		return "", mapErr(err)
	}
	return plan, nil
}

func (s *Store) SetUserPlan(ctx context.Context, userID, plan string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_plans (user_id, plan, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = EXCLUDED.updated_at`,
		userID, plan, at.UTC())
	return mapErr(err)
}

func (s *Store) CountCreatedSince(ctx context.Context, userID string, kind model.ResourceKind, since time.Time) (int, error) {
	q, ok := countQueries[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownKind, kind)
	}
	var n int
	if err := s.pool.QueryRow(ctx, q, userID, since).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, mapErr(rows.Err())
}
