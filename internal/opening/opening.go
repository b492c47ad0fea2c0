// Package opening serves the ECO opening book stored alongside game history.
package opening

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Opening struct {
	ID   uuid.UUID `json:"id"`
	Eco  string    `json:"eco"`
	Name string    `json:"name"`
	PGN  string    `json:"pgn"`
}

// Params selects one ECO volume (A-E) with pagination.
type Params struct {
	Volume string
	Page   int
	Offset int
}

type Page struct {
	Openings []Opening `json:"openings"`
	Page     int       `json:"page"`
	Offset   int       `json:"offset"`
	Total    int       `json:"total"`
}

// Source answers opening-book queries.
type Source interface {
	ByVolume(ctx context.Context, p Params) (*Page, error)
}

// DBSource reads the openings table.
type DBSource struct {
	db *sql.DB
}

func NewDBSource(db *sql.DB) *DBSource { return &DBSource{db: db} }

const countByVolume = `
	SELECT COUNT(*) FROM openings
	WHERE eco LIKE $1`

const selectByVolume = `
	SELECT id, eco, name, pgn FROM openings
	WHERE eco LIKE $1
	ORDER BY eco
	LIMIT 50
	OFFSET $2`

func (s *DBSource) ByVolume(ctx context.Context, p Params) (*Page, error) {
	eco := fmt.Sprintf("%s%%", p.Volume)

	var total int
	if err := s.db.QueryRowContext(ctx, countByVolume, eco).Scan(&total); err != nil {
		return nil, fmt.Errorf("count openings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectByVolume, eco, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("select openings: %w", err)
	}
	defer rows.Close()

	var openings []Opening
	for rows.Next() {
		var o Opening
		if err := rows.Scan(&o.ID, &o.Eco, &o.Name, &o.PGN); err != nil {
			return nil, fmt.Errorf("scan opening: %w", err)
		}
		openings = append(openings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{
		Openings: openings,
		Page:     p.Page,
		Offset:   p.Offset,
		Total:    total,
	}, nil
}
