package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahiry/fokontany/internal/domain"
)

const residenceColumns = `id, lot, zone_id, address, description, lat, lng, created_by, created_at, updated_at`

// ResidenceRepository handles registry record data access operations.
type ResidenceRepository struct {
	db sqlx.ExtContext
}

// NewResidenceRepository creates a new ResidenceRepository.
func NewResidenceRepository(db sqlx.ExtContext) *ResidenceRepository {
	return &ResidenceRepository{db: db}
}

// Create inserts a new residence into the registry.
func (r *ResidenceRepository) Create(ctx context.Context, res domain.Residence) (*domain.Residence, error) {
	var result domain.Residence
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO residences (lot, zone_id, address, description, lat, lng, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+residenceColumns,
		res.Lot, res.ZoneID, res.Address, res.Description, res.Lat, res.Lng, res.CreatedBy,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create residence: %w", err)
	}
	return &result, nil
}

// FindByID retrieves a residence by its ID.
func (r *ResidenceRepository) FindByID(ctx context.Context, id int64) (*domain.Residence, error) {
	var res domain.Residence
	err := sqlx.GetContext(ctx, r.db, &res,
		`SELECT `+residenceColumns+` FROM residences WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find residence by id %d: %w", id, err)
	}
	return &res, nil
}
