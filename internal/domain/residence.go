package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ResidencePayload holds the residence data carried by a submission. It is
// stored as a JSONB column while the submission is pending and expanded into
// structured columns once approved.
type ResidencePayload struct {
	Lot         string  `json:"lot"`
	ZoneID      int64   `json:"zone_id"`
	Address     string  `json:"address"`
	Description *string `json:"description,omitempty"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Validate checks the fields required before a payload may enter the
// workflow: a lot identifier and finite coordinates.
func (p ResidencePayload) Validate() error {
	if strings.TrimSpace(p.Lot) == "" {
		return &ValidationError{Field: "lot", Message: "lot identifier is required"}
	}
	if !isFinite(p.Lat) || !isFinite(p.Lng) {
		return &ValidationError{Field: "coordinates", Message: "coordinates must be finite numbers"}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Value implements driver.Valuer for the JSONB storage boundary.
func (p ResidencePayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for the JSONB storage boundary.
func (p *ResidencePayload) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("scan residence payload: unsupported type %T", src)
	}
}

// Residence represents an authoritative residence record in the registry.
type Residence struct {
	ID          int64     `json:"id" db:"id"`
	Lot         string    `json:"lot" db:"lot"`
	ZoneID      int64     `json:"zone_id" db:"zone_id"`
	Address     string    `json:"address" db:"address"`
	Description *string   `json:"description,omitempty" db:"description"`
	Lat         float64   `json:"lat" db:"lat"`
	Lng         float64   `json:"lng" db:"lng"`
	CreatedBy   int64     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Payload returns the residence fields as a submission payload.
func (r Residence) Payload() ResidencePayload {
	return ResidencePayload{
		Lot:         r.Lot,
		ZoneID:      r.ZoneID,
		Address:     r.Address,
		Description: r.Description,
		Lat:         r.Lat,
		Lng:         r.Lng,
	}
}
