// Package sqlite implements store.Store on gorm with the SQLite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
)

// Store is a gorm-backed store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying sql.DB: %w", err)
	}
	// SQLite serializes writers; an in-memory database also exists per connection.
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&domainRow{}, &recordRow{}, &linkRow{}, &aliasRow{}, &planRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	// A name may be verified by one account only.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_domains_verified_name
		ON custom_domains (name) WHERE ownership = 'verified'`).Error; err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_managed_name
		ON dns_records (zone_id, name, type) WHERE active AND purpose IN ('domain', 'short_link')`).Error; err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return errors.Join(store.ErrDuplicate, err)
	}
	return err
}

func affected(tx *gorm.DB) error {
	if tx.Error != nil {
		return mapErr(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func page(q *gorm.DB, p store.Page) *gorm.DB {
	if p.After != "" {
		q = q.Where("id > ?", p.After)
	}
	return q.Order("id ASC").Limit(p.Size())
}

// domains

func (s *Store) CreateDomain(ctx context.Context, d model.CustomDomain) error {
	row := toDomainRow(d)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetDomain(ctx context.Context, id string) (model.CustomDomain, error) {
	var row domainRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.CustomDomain{}, mapErr(err)
	}
	return row.model(), nil
}

func (s *Store) ListDomains(ctx context.Context, userID string, p store.Page) ([]model.CustomDomain, error) {
	var rows []domainRow
	q := s.db.WithContext(ctx).Model(&domainRow{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := page(q, p).Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.CustomDomain, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) UpdateDomainState(ctx context.Context, next model.CustomDomain, expected model.State) error {
	row := toDomainRow(next)
	tx := s.db.WithContext(ctx).Model(&domainRow{}).
		Where("id = ? AND ownership = ? AND email = ?", next.ID, string(expected.Ownership), string(expected.Email)).
		Updates(map[string]any{
			"ownership":         row.Ownership,
			"email":             row.Email,
			"verified_at":       row.VerifiedAt,
			"email_verified_at": row.EmailVerifiedAt,
			"updated_at":        row.UpdatedAt,
		})
	if tx.Error != nil {
		return mapErr(tx.Error)
	}
	if tx.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetDomain(ctx, next.ID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("custom_domain_id = ?", id).Delete(&aliasRow{}).Error; err != nil {
			return mapErr(err)
		}
		return affected(tx.Where("id = ?", id).Delete(&domainRow{}))
	})
}

func (s *Store) VerifiedNameTaken(ctx context.Context, name, exceptUserID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domainRow{}).
		Where("name = ? AND ownership = ? AND user_id <> ?", name, string(model.OwnershipVerified), exceptUserID).
		Count(&n).Error
	return n > 0, mapErr(err)
}

// records

func (s *Store) InsertRecord(ctx context.Context, r model.DNSRecord) error {
	row := toRecordRow(r)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetRecord(ctx context.Context, id string) (model.DNSRecord, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.DNSRecord{}, mapErr(err)
	}
	return row.model(), nil
}

func (s *Store) UpdateRecord(ctx context.Context, r model.DNSRecord) error {
	row := toRecordRow(r)
	return affected(s.db.WithContext(ctx).Model(&recordRow{}).
		Where("id = ? AND active = ?", r.ID, true).
		Select("remote_id", "type", "name", "content", "proxied", "ttl", "priority", "comment", "tags", "modified_at").
		Updates(&row))
}

func (s *Store) DeactivateRecord(ctx context.Context, id string, at time.Time) error {
	return affected(s.db.WithContext(ctx).Model(&recordRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "modified_at": at.UTC()}))
}

func (s *Store) ListRecords(ctx context.Context, f store.RecordFilter, p store.Page) ([]model.DNSRecord, error) {
	q := s.db.WithContext(ctx).Model(&recordRow{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.CustomDomainID != "" {
		q = q.Where("custom_domain_id = ?", f.CustomDomainID)
	}
	if f.ZoneID != "" {
		q = q.Where("zone_id = ?", f.ZoneID)
	}
	if f.ZoneName != "" {
		q = q.Where("zone_name = ?", f.ZoneName)
	}
	if f.Purpose != "" {
		q = q.Where("purpose = ?", string(f.Purpose))
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Name != "" {
		q = q.Where("name = ?", f.Name)
	}
	if !f.IncludeInactive {
		q = q.Where("active = ?", true)
	}

	var rows []recordRow
	if err := page(q, p).Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.DNSRecord, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// links

func (s *Store) CreateLink(ctx context.Context, l model.ShortURL) error {
	row := toLinkRow(l)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetLink(ctx context.Context, id string) (model.ShortURL, error) {
	var row linkRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.ShortURL{}, mapErr(err)
	}
	return row.model(), nil
}

func (s *Store) FindLink(ctx context.Context, prefix, domain, slug string) (model.ShortURL, error) {
	var row linkRow
	err := s.db.WithContext(ctx).
		Where("prefix = ? AND domain = ? AND slug = ?", prefix, domain, slug).
		First(&row).Error
	if err != nil {
		return model.ShortURL{}, mapErr(err)
	}
	return row.model(), nil
}

func (s *Store) UpdateLink(ctx context.Context, l model.ShortURL) error {
	row := toLinkRow(l)
	return affected(s.db.WithContext(ctx).Model(&linkRow{}).
		Where("id = ?", l.ID).
		Select("target_url", "public", "active", "expires_at", "password_hash", "dns_record_id", "updated_at").
		Updates(&row))
}

func (s *Store) DeleteLink(ctx context.Context, id string) error {
	return affected(s.db.WithContext(ctx).Where("id = ?", id).Delete(&linkRow{}))
}

func (s *Store) ListLinks(ctx context.Context, userID string, p store.Page) ([]model.ShortURL, error) {
	q := s.db.WithContext(ctx).Model(&linkRow{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rows []linkRow
	if err := page(q, p).Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	return linkModels(rows), nil
}

func (s *Store) PrefixLinks(ctx context.Context, prefix, domain string, limit int) ([]model.ShortURL, error) {
	var rows []linkRow
	err := s.db.WithContext(ctx).
		Where("prefix = ? AND domain = ?", prefix, domain).
		Order("id ASC").Limit(max(limit, 1)).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return linkModels(rows), nil
}

func (s *Store) DomainLinks(ctx context.Context, domain string, limit int) ([]model.ShortURL, error) {
	var rows []linkRow
	err := s.db.WithContext(ctx).
		Where("domain = ?", domain).
		Order("id ASC").Limit(max(limit, 1)).
		Find(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return linkModels(rows), nil
}

func linkModels(rows []linkRow) []model.ShortURL {
	out := make([]model.ShortURL, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out
}

// aliases

func (s *Store) CreateAlias(ctx context.Context, a model.EmailAlias) error {
	row := toAliasRow(a)
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetAlias(ctx context.Context, id string) (model.EmailAlias, error) {
	var row aliasRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return model.EmailAlias{}, mapErr(err)
	}
	return row.model(), nil
}

func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	return affected(s.db.WithContext(ctx).Where("id = ?", id).Delete(&aliasRow{}))
}

func (s *Store) ListAliases(ctx context.Context, customDomainID string, p store.Page) ([]model.EmailAlias, error) {
	var rows []aliasRow
	q := s.db.WithContext(ctx).Model(&aliasRow{}).Where("custom_domain_id = ?", customDomainID)
	if err := page(q, p).Find(&rows).Error; err != nil {
		return nil, mapErr(err)
	}
	out := make([]model.EmailAlias, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// usage

// user plans

func (s *Store) UserPlan(ctx context.Context, userID string) (string, error) {
	var row planRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return "", mapErr(err)
	}
	return row.Plan, nil
}

func (s *Store) SetUserPlan(ctx context.Context, userID, plan string, at time.Time) error {
	row := planRow{UserID: userID, Plan: plan, UpdatedAt: at.UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "updated_at"}),
	}).Create(&row).Error
	return mapErr(err)
}

func (s *Store) CountCreatedSince(ctx context.Context, userID string, kind model.ResourceKind, since time.Time) (int, error) {
	q := s.db.WithContext(ctx)
	switch kind {
	case model.KindCustomDomains:
		q = q.Model(&domainRow{})
	case model.KindShortLinks:
		q = q.Model(&linkRow{})
	case model.KindEmailAliases:
		q = q.Model(&aliasRow{})
	case model.KindDNSRecords:
		q = q.Model(&recordRow{}).Where("purpose = ? AND active = ?", string(model.PurposeUser), true)
	default:
		return 0, fmt.Errorf("%w: %q", store.ErrUnknownKind, kind)
	}

	var n int64
	err := q.Where("user_id = ? AND created_at >= ?", userID, since.UTC()).Count(&n).Error
	return int(n), mapErr(err)
}
