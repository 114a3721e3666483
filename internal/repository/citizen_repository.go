package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fingerprint-match/internal/matcher"
)

// DefaultCitizenTable is the relational table holding enrolled records.
const DefaultCitizenTable = "citizens"

// Citizen is one enrolled record. The table is owned by the enrolment
// system and is never migrated from here.
type Citizen struct {
	NIC              string         `gorm:"column:nic;primaryKey"`
	Name             sql.NullString `gorm:"column:name"`
	PassportID       sql.NullString `gorm:"column:passport_id"`
	ProfileImage     sql.NullString `gorm:"column:profile_image"`
	FingerprintImage sql.NullString `gorm:"column:fingerprint_image;type:text"`
}

// Candidate converts the row to the matcher's record type.
func (c Citizen) Candidate() matcher.Candidate {
	return matcher.Candidate{
		ID:           c.NIC,
		Name:         c.Name.String,
		PassportID:   c.PassportID.String,
		ProfileImage: c.ProfileImage.String,
		Fingerprint:  c.FingerprintImage.String,
	}
}

// CitizenRepository streams enrolled records from a relational table.
type CitizenRepository struct {
	retrier
	db    *gorm.DB
	table string
}

// NewCitizenRepository creates a repository reading from table, or
// DefaultCitizenTable when table is empty.
func NewCitizenRepository(db *gorm.DB, table string, logger *zap.Logger) *CitizenRepository {
	if table == "" {
		table = DefaultCitizenTable
	}
	return &CitizenRepository{
		retrier: newRetrier(logger.Named("citizen_repository"), "store"),
		db:      db,
		table:   table,
	}
}

// Each implements matcher.Source. Rows are streamed in table order; records
// without a fingerprint are passed through and left for the caller to skip.
func (r *CitizenRepository) Each(ctx context.Context, fn func(matcher.Candidate) error) error {
	var rows *sql.Rows
	err := r.executeWithRetry(ctx, "repository.citizens.query", "", func() error {
		var err error
		rows, err = r.db.WithContext(ctx).
			Table(r.table).
			Select("nic", "name", "passport_id", "profile_image", "fingerprint_image").
			Rows()
		return err
	})
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var citizen Citizen
		if err := r.db.ScanRows(rows, &citizen); err != nil {
			return fmt.Errorf("scan %s row: %w", r.table, err)
		}
		if err := fn(citizen.Candidate()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ping reports whether the database answers.
func (r *CitizenRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
