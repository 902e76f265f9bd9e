package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type VocabularyStore struct {
	db *pgxpool.Pool
}

func NewVocabularyStore(db *pgxpool.Pool) *VocabularyStore {
	return &VocabularyStore{db: db}
}

const vocabColumns = `term, context_type, strength, observation_count, first_observed, last_updated`

func scanVocab(row pgx.Row) (domain.VocabularyAssociation, error) {
	var a domain.VocabularyAssociation
	err := row.Scan(&a.Term, &a.Context, &a.Strength, &a.ObservationCount, &a.FirstObserved, &a.LastUpdated)
	return a, err
}

func collectVocab(rows pgx.Rows) ([]domain.VocabularyAssociation, error) {
	defer rows.Close()

	var out []domain.VocabularyAssociation
	for rows.Next() {
		a, err := scanVocab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *VocabularyStore) Get(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyAssociation, error) {
	a, err := scanVocab(s.db.QueryRow(ctx,
		`SELECT `+vocabColumns+` FROM vocabulary_associations
		 WHERE term = $1 AND context_type = $2`,
		term, c,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *VocabularyStore) ListByTerm(ctx context.Context, term string) ([]domain.VocabularyAssociation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+vocabColumns+` FROM vocabulary_associations
		 WHERE term = $1
		 ORDER BY strength DESC`,
		term,
	)
	if err != nil {
		return nil, err
	}
	return collectVocab(rows)
}

func (s *VocabularyStore) ListByContext(ctx context.Context, c domain.ContextType, minStrength float64, limit int) ([]domain.VocabularyAssociation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+vocabColumns+` FROM vocabulary_associations
		 WHERE context_type = $1 AND strength >= $2
		 ORDER BY strength DESC, term
		 LIMIT $3`,
		c, minStrength, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectVocab(rows)
}

func (s *VocabularyStore) ListAll(ctx context.Context) ([]domain.VocabularyAssociation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+vocabColumns+` FROM vocabulary_associations
		 ORDER BY term, context_type`,
	)
	if err != nil {
		return nil, err
	}
	return collectVocab(rows)
}

func (s *VocabularyStore) SaveObservation(ctx context.Context, observed domain.VocabularyAssociation, inhibited []domain.VocabularyAssociation) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO vocabulary_associations (term, context_type, strength, observation_count, first_observed, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (term, context_type) DO UPDATE SET
		    strength = EXCLUDED.strength,
		    observation_count = EXCLUDED.observation_count,
		    last_updated = EXCLUDED.last_updated`,
		observed.Term, observed.Context, observed.Strength, observed.ObservationCount, observed.FirstObserved, observed.LastUpdated,
	); err != nil {
		return fmt.Errorf("upsert association: %w", err)
	}

	for _, a := range inhibited {
		if _, err := tx.Exec(ctx,
			`UPDATE vocabulary_associations SET strength = $3
			 WHERE term = $1 AND context_type = $2`,
			a.Term, a.Context, a.Strength,
		); err != nil {
			return fmt.Errorf("inhibit %s/%s: %w", a.Term, a.Context, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO vocabulary_observation_log (term, context_type, strength, observed_at)
		 VALUES ($1, $2, $3, $4)`,
		observed.Term, observed.Context, observed.Strength, observed.LastUpdated,
	); err != nil {
		return fmt.Errorf("log observation: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *VocabularyStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE vocabulary_associations
		 SET strength = GREATEST(0, strength * $2)
		 WHERE last_updated < $1 AND strength > 0`,
		before, factor,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *VocabularyStore) PruneWeak(ctx context.Context, minStrength float64, minObservations int) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM vocabulary_associations
		 WHERE strength < $1 AND observation_count < $2`,
		minStrength, minObservations,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *VocabularyStore) GetOverride(ctx context.Context, term string, c domain.ContextType) (*domain.VocabularyOverride, error) {
	o := &domain.VocabularyOverride{}
	err := s.db.QueryRow(ctx,
		`SELECT term, context_type, strength, reason, created_at
		 FROM vocabulary_overrides WHERE term = $1 AND context_type = $2`,
		term, c,
	).Scan(&o.Term, &o.Context, &o.Strength, &o.Reason, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *VocabularyStore) UpsertOverride(ctx context.Context, o *domain.VocabularyOverride) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO vocabulary_overrides (term, context_type, strength, reason)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (term, context_type) DO UPDATE SET
		    strength = EXCLUDED.strength,
		    reason = EXCLUDED.reason,
		    created_at = NOW()
		 RETURNING created_at`,
		o.Term, o.Context, o.Strength, o.Reason,
	).Scan(&o.CreatedAt)
}

func (s *VocabularyStore) DeleteOverride(ctx context.Context, term string, c domain.ContextType) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM vocabulary_overrides WHERE term = $1 AND context_type = $2`,
		term, c,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *VocabularyStore) ListOverrides(ctx context.Context) ([]domain.VocabularyOverride, error) {
	rows, err := s.db.Query(ctx,
		`SELECT term, context_type, strength, reason, created_at
		 FROM vocabulary_overrides ORDER BY term, context_type`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VocabularyOverride
	for rows.Next() {
		var o domain.VocabularyOverride
		if err := rows.Scan(&o.Term, &o.Context, &o.Strength, &o.Reason, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *VocabularyStore) Stats(ctx context.Context, weakBelow float64, since time.Time) (*domain.VocabularyStats, error) {
	st := &domain.VocabularyStats{}
	err := s.db.QueryRow(ctx,
		`SELECT
		    COUNT(*),
		    COUNT(DISTINCT term),
		    COALESCE(AVG(strength), 0),
		    COUNT(*) FILTER (WHERE strength < $1),
		    (SELECT COUNT(*) FROM vocabulary_overrides),
		    (SELECT COUNT(*) FROM vocabulary_observation_log WHERE observed_at >= $2)
		 FROM vocabulary_associations`,
		weakBelow, since,
	).Scan(&st.Associations, &st.UniqueTerms, &st.AvgStrength, &st.WeakAssociations, &st.Overrides, &st.RecentObservations)
	if err != nil {
		return nil, err
	}
	return st, nil
}
