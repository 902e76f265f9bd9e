package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DimensionStore struct {
	db *pgxpool.Pool
}

func NewDimensionStore(db *pgxpool.Pool) *DimensionStore {
	return &DimensionStore{db: db}
}

const dimColumns = `dimension_1, dimension_2, coactivation_strength, polarity, observation_count, first_observed, last_updated`

func scanDim(row pgx.Row) (domain.DimensionAssociation, error) {
	var a domain.DimensionAssociation
	err := row.Scan(&a.Dim1, &a.Dim2, &a.Strength, &a.Polarity, &a.ObservationCount, &a.FirstObserved, &a.LastUpdated)
	return a, err
}

func collectDims(rows pgx.Rows) ([]domain.DimensionAssociation, error) {
	defer rows.Close()

	var out []domain.DimensionAssociation
	for rows.Next() {
		a, err := scanDim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *DimensionStore) Get(ctx context.Context, d1, d2 domain.Dimension) (*domain.DimensionAssociation, error) {
	d1, d2 = domain.OrderedPair(d1, d2)
	a, err := scanDim(s.db.QueryRow(ctx,
		`SELECT `+dimColumns+` FROM dimension_associations
		 WHERE dimension_1 = $1 AND dimension_2 = $2`,
		d1, d2,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *DimensionStore) ListForDimension(ctx context.Context, d domain.Dimension, limit int) ([]domain.DimensionAssociation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+dimColumns+` FROM dimension_associations
		 WHERE (dimension_1 = $1 OR dimension_2 = $1) AND coactivation_strength > 0
		 ORDER BY coactivation_strength DESC
		 LIMIT $2`,
		d, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectDims(rows)
}

func (s *DimensionStore) ListAll(ctx context.Context) ([]domain.DimensionAssociation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+dimColumns+` FROM dimension_associations
		 ORDER BY dimension_1, dimension_2`,
	)
	if err != nil {
		return nil, err
	}
	return collectDims(rows)
}

func (s *DimensionStore) SavePairs(ctx context.Context, pairs []domain.DimensionAssociation) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range pairs {
		d1, d2 := domain.OrderedPair(p.Dim1, p.Dim2)
		if _, err := tx.Exec(ctx,
			`INSERT INTO dimension_associations (dimension_1, dimension_2, coactivation_strength, polarity, observation_count, first_observed, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (dimension_1, dimension_2) DO UPDATE SET
			    coactivation_strength = EXCLUDED.coactivation_strength,
			    polarity = EXCLUDED.polarity,
			    observation_count = EXCLUDED.observation_count,
			    last_updated = EXCLUDED.last_updated`,
			d1, d2, p.Strength, p.Polarity, p.ObservationCount, p.FirstObserved, p.LastUpdated,
		); err != nil {
			return fmt.Errorf("upsert pair %s/%s: %w", d1, d2, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *DimensionStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE dimension_associations
		 SET coactivation_strength = GREATEST(0, coactivation_strength * $2)
		 WHERE last_updated < $1 AND coactivation_strength > 0`,
		before, factor,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *DimensionStore) PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM dimension_associations
		 WHERE coactivation_strength < $1 AND observation_count < $2`,
		minStrength, minObservations,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPattern(row pgx.Row) (domain.MultiDimPattern, error) {
	var p domain.MultiDimPattern
	var dims []byte
	if err := row.Scan(&p.PatternID, &dims, &p.Frequency, &p.AvgSatisfaction, &p.FirstSeen, &p.LastSeen); err != nil {
		return p, err
	}
	if err := json.Unmarshal(dims, &p.Dimensions); err != nil {
		return p, fmt.Errorf("unmarshal dimensions: %w", err)
	}
	return p, nil
}

func (s *DimensionStore) GetPattern(ctx context.Context, patternID string) (*domain.MultiDimPattern, error) {
	p, err := scanPattern(s.db.QueryRow(ctx,
		`SELECT pattern_id, dimensions, frequency, avg_satisfaction, first_seen, last_seen
		 FROM multi_dimension_patterns WHERE pattern_id = $1`,
		patternID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *DimensionStore) SavePattern(ctx context.Context, p *domain.MultiDimPattern) error {
	dims, err := json.Marshal(p.Dimensions)
	if err != nil {
		return fmt.Errorf("marshal dimensions: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO multi_dimension_patterns (pattern_id, dimensions, frequency, avg_satisfaction, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pattern_id) DO UPDATE SET
		    dimensions = EXCLUDED.dimensions,
		    frequency = EXCLUDED.frequency,
		    avg_satisfaction = EXCLUDED.avg_satisfaction,
		    last_seen = EXCLUDED.last_seen`,
		p.PatternID, dims, p.Frequency, p.AvgSatisfaction, p.FirstSeen, p.LastSeen,
	)
	return err
}

func (s *DimensionStore) ListPatterns(ctx context.Context, minFrequency int) ([]domain.MultiDimPattern, error) {
	rows, err := s.db.Query(ctx,
		`SELECT pattern_id, dimensions, frequency, avg_satisfaction, first_seen, last_seen
		 FROM multi_dimension_patterns
		 WHERE frequency >= $1
		 ORDER BY frequency DESC, pattern_id`,
		minFrequency,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MultiDimPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DimensionStore) Stats(ctx context.Context, weakBelow float64) (*domain.DimensionStats, error) {
	st := &domain.DimensionStats{}
	err := s.db.QueryRow(ctx,
		`SELECT
		    COUNT(*),
		    COALESCE(AVG(coactivation_strength), 0),
		    COUNT(*) FILTER (WHERE coactivation_strength < $1),
		    COUNT(*) FILTER (WHERE polarity < 0),
		    (SELECT COUNT(*) FROM multi_dimension_patterns)
		 FROM dimension_associations`,
		weakBelow,
	).Scan(&st.Pairs, &st.AvgStrength, &st.WeakPairs, &st.NegativePairs, &st.Patterns)
	if err != nil {
		return nil, err
	}
	return st, nil
}
