package store

import (
	"context"
	"errors"
	"time"

	"github.com/Harshitk-cp/penny/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QuarantineStore struct {
	db *pgxpool.Pool
}

func NewQuarantineStore(db *pgxpool.Pool) *QuarantineStore {
	return &QuarantineStore{db: db}
}

const stagedColumns = `kind, key_1, key_2, observation_count, status, first_observed, last_observed, promoted_at`

func scanStaged(row pgx.Row) (domain.StagedAssociation, error) {
	var s domain.StagedAssociation
	err := row.Scan(&s.Kind, &s.Key1, &s.Key2, &s.ObservationCount, &s.Status, &s.FirstObserved, &s.LastObserved, &s.PromotedAt)
	return s, err
}

func (s *QuarantineStore) Get(ctx context.Context, kind domain.AssociationKind, key1, key2 string) (*domain.StagedAssociation, error) {
	st, err := scanStaged(s.db.QueryRow(ctx,
		`SELECT `+stagedColumns+` FROM staged_associations
		 WHERE kind = $1 AND key_1 = $2 AND key_2 = $3`,
		kind, key1, key2,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *QuarantineStore) Save(ctx context.Context, st *domain.StagedAssociation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO staged_associations (kind, key_1, key_2, observation_count, status, first_observed, last_observed, promoted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (kind, key_1, key_2) DO UPDATE SET
		    observation_count = EXCLUDED.observation_count,
		    status = EXCLUDED.status,
		    first_observed = EXCLUDED.first_observed,
		    last_observed = EXCLUDED.last_observed,
		    promoted_at = EXCLUDED.promoted_at`,
		st.Kind, st.Key1, st.Key2, st.ObservationCount, st.Status, st.FirstObserved, st.LastObserved, st.PromotedAt,
	)
	return err
}

func (s *QuarantineStore) Delete(ctx context.Context, kind domain.AssociationKind, key1, key2 string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM staged_associations WHERE kind = $1 AND key_1 = $2 AND key_2 = $3`,
		kind, key1, key2,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *QuarantineStore) ListAll(ctx context.Context) ([]domain.StagedAssociation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stagedColumns+` FROM staged_associations
		 ORDER BY kind, key_1, key_2`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StagedAssociation
	for rows.Next() {
		st, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *QuarantineStore) PromoteEligible(ctx context.Context, minObservations int, firstBefore, now time.Time) (map[domain.AssociationKind]int64, error) {
	return s.countByKind(ctx,
		`WITH changed AS (
		    UPDATE staged_associations
		    SET status = $4, promoted_at = $3
		    WHERE status = $5 AND observation_count >= $1 AND first_observed <= $2
		    RETURNING kind
		 )
		 SELECT kind, COUNT(*) FROM changed GROUP BY kind`,
		minObservations, firstBefore, now, domain.StagedStatusPromoted, domain.StagedStatusStaged,
	)
}

func (s *QuarantineStore) ExpireStaged(ctx context.Context, firstBefore time.Time) (map[domain.AssociationKind]int64, error) {
	return s.countByKind(ctx,
		`WITH removed AS (
		    DELETE FROM staged_associations
		    WHERE status = $2 AND first_observed < $1
		    RETURNING kind
		 )
		 SELECT kind, COUNT(*) FROM removed GROUP BY kind`,
		firstBefore, domain.StagedStatusStaged,
	)
}

func (s *QuarantineStore) countByKind(ctx context.Context, sql string, args ...any) (map[domain.AssociationKind]int64, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.AssociationKind]int64)
	for rows.Next() {
		var kind domain.AssociationKind
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (s *QuarantineStore) Counts(ctx context.Context) (map[domain.AssociationKind]domain.StagingCounts, error) {
	rows, err := s.db.Query(ctx,
		`SELECT kind,
		    COUNT(*) FILTER (WHERE status = $1),
		    COUNT(*) FILTER (WHERE status = $2)
		 FROM staged_associations
		 GROUP BY kind`,
		domain.StagedStatusStaged, domain.StagedStatusPromoted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.AssociationKind]domain.StagingCounts)
	for rows.Next() {
		var kind domain.AssociationKind
		var c domain.StagingCounts
		if err := rows.Scan(&kind, &c.Staged, &c.Promoted); err != nil {
			return nil, err
		}
		counts[kind] = c
	}
	return counts, rows.Err()
}
