package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/persistence"
)

// capsulesRepo implements persistence.CapsuleStore for PostgreSQL. The
// capsules table is a read replica of the content service's data; this repo
// never writes to it.
type capsulesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCapsulesRepo creates a PostgreSQL capsule repository
func NewCapsulesRepo(db *sqlx.DB, timeout time.Duration) persistence.CapsuleStore {
	return &capsulesRepo{db: db, timeout: timeout}
}

// capsuleRow keeps the db mapping out of the domain type
type capsuleRow struct {
	ID            string    `db:"id"`
	CreatedAt     time.Time `db:"created_at"`
	Views         int64     `db:"views"`
	Shares        int64     `db:"shares"`
	Verifications int64     `db:"verifications"`
	Minted        bool      `db:"minted"`
	VeritasSealed bool      `db:"veritas_sealed"`
	QualityScore  float64   `db:"quality_score"`
	Category      string    `db:"category"`
}

// ListByCreator returns all capsules published by an account
func (r *capsulesRepo) ListByCreator(ctx context.Context, accountID string) ([]domain.Capsule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, created_at, views, shares, verifications,
		       minted, veritas_sealed, quality_score, category
		FROM capsules
		WHERE creator_id = $1
		ORDER BY created_at DESC`

	var rows []capsuleRow
	if err := r.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list capsules: %w", err)
	}

	capsules := make([]domain.Capsule, 0, len(rows))
	for _, row := range rows {
		capsules = append(capsules, domain.Capsule{
			ID:            row.ID,
			CreatedAt:     row.CreatedAt,
			Views:         row.Views,
			Shares:        row.Shares,
			Verifications: row.Verifications,
			Minted:        row.Minted,
			VeritasSealed: row.VeritasSealed,
			QualityScore:  row.QualityScore,
			Category:      row.Category,
		})
	}

	return capsules, nil
}
