package pgsims

import (
	"context"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const selectColumns = `
SELECT
  id, label, phone_number, last_usage_date, notes,
  created_at, updated_at
FROM sim_cards`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSim(r rowScanner) (*models.SimCard, error) {
	var sc models.SimCard
	if err := r.Scan(
		&sc.ID, &sc.Label, &sc.PhoneNumber, &sc.LastUsageDate, &sc.Notes,
		&sc.CreatedAt, &sc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sc.LastUsageDate = sc.LastUsageDate.UTC()
	return &sc, nil
}

func collect(rows pgx.Rows) ([]*models.SimCard, error) {
	defer rows.Close()

	out := []*models.SimCard{}
	for rows.Next() {
		sc, err := scanSim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sim card")
		}
		out = append(out, sc)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LoadAll returns every sim card ordered by id. Each call reads the committed state.
func (s *Storage) LoadAll(ctx context.Context) ([]*models.SimCard, error) {
	rows, err := s.db.Query(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select sim cards")
	}
	return collect(rows)
}

func (s *Storage) GetByIDs(ctx context.Context, ids []string) ([]*models.SimCard, error) {
	if len(ids) == 0 {
		return []*models.SimCard{}, nil
	}
	rows, err := s.db.Query(ctx, selectColumns+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select sim cards by ids")
	}
	return collect(rows)
}

func (s *Storage) Get(ctx context.Context, id string) (*models.SimCard, error) {
	sc, err := scanSim(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select sim card")
	}
	return sc, nil
}

func (s *Storage) Create(ctx context.Context, sc *models.SimCard) error {
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
INSERT INTO sim_cards (
  id, label, phone_number, last_usage_date, notes, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, sc.ID, sc.Label, sc.PhoneNumber, sc.LastUsageDate.UTC(), sc.Notes, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert sim card")
	}
	return nil
}

// Update overwrites the editable fields of an existing card.
func (s *Storage) Update(ctx context.Context, sc *models.SimCard) error {
	sc.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
UPDATE sim_cards
SET
  label = $2,
  phone_number = $3,
  last_usage_date = $4,
  notes = $5,
  updated_at = $6
WHERE id = $1
`, sc.ID, sc.Label, sc.PhoneNumber, sc.LastUsageDate.UTC(), sc.Notes, sc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update sim card")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsage touches only last_usage_date so a concurrent label/notes edit is never lost.
func (s *Storage) UpdateLastUsage(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE sim_cards
SET last_usage_date = $2, updated_at = now()
WHERE id = $1
`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update last usage")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sim_cards WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete sim card")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
