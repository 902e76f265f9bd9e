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

type SequenceStore struct {
	db *pgxpool.Pool
}

func NewSequenceStore(db *pgxpool.Pool) *SequenceStore {
	return &SequenceStore{db: db}
}

const transitionColumns = `state_from, state_to, transition_count, transition_probability, avg_satisfaction, first_observed, last_observed`

func scanTransition(row pgx.Row) (domain.StateTransition, error) {
	var t domain.StateTransition
	err := row.Scan(&t.From, &t.To, &t.Count, &t.Probability, &t.AvgSatisfaction, &t.FirstObserved, &t.LastObserved)
	return t, err
}

func collectTransitions(rows pgx.Rows) ([]domain.StateTransition, error) {
	defer rows.Close()

	var out []domain.StateTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SequenceStore) GetTransition(ctx context.Context, from, to domain.ConversationState) (*domain.StateTransition, error) {
	t, err := scanTransition(s.db.QueryRow(ctx,
		`SELECT `+transitionColumns+` FROM state_transitions
		 WHERE state_from = $1 AND state_to = $2`,
		from, to,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *SequenceStore) ListTransitionsFrom(ctx context.Context, from domain.ConversationState) ([]domain.StateTransition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transitionColumns+` FROM state_transitions
		 WHERE state_from = $1
		 ORDER BY transition_probability DESC, state_to`,
		from,
	)
	if err != nil {
		return nil, err
	}
	return collectTransitions(rows)
}

func (s *SequenceStore) ListAllTransitions(ctx context.Context) ([]domain.StateTransition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transitionColumns+` FROM state_transitions
		 ORDER BY state_from, transition_probability DESC`,
	)
	if err != nil {
		return nil, err
	}
	return collectTransitions(rows)
}

func (s *SequenceStore) SaveTransitions(ctx context.Context, rows []domain.StateTransition) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO state_transitions (state_from, state_to, transition_count, transition_probability, avg_satisfaction, first_observed, last_observed)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (state_from, state_to) DO UPDATE SET
			    transition_count = EXCLUDED.transition_count,
			    transition_probability = EXCLUDED.transition_probability,
			    avg_satisfaction = EXCLUDED.avg_satisfaction,
			    last_observed = EXCLUDED.last_observed`,
			t.From, t.To, t.Count, t.Probability, t.AvgSatisfaction, t.FirstObserved, t.LastObserved,
		); err != nil {
			return fmt.Errorf("upsert transition %s->%s: %w", t.From, t.To, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *SequenceStore) DecayStale(ctx context.Context, before time.Time, factor float64) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE state_transitions
		 SET transition_count = FLOOR(transition_count * $2::DOUBLE PRECISION)::INTEGER
		 WHERE last_observed < $1`,
		before, factor,
	)
	if err != nil {
		return 0, fmt.Errorf("decay transitions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM state_transitions WHERE transition_count <= 0`); err != nil {
		return 0, fmt.Errorf("remove exhausted transitions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSequence(row pgx.Row) (domain.StateSequence, error) {
	var seq domain.StateSequence
	var states []string
	if err := row.Scan(&seq.SequenceID, &states, &seq.Frequency, &seq.AvgSatisfaction, &seq.FirstSeen, &seq.LastSeen); err != nil {
		return seq, err
	}
	seq.Sequence = make([]domain.ConversationState, len(states))
	for i, st := range states {
		seq.Sequence[i] = domain.ConversationState(st)
	}
	return seq, nil
}

func (s *SequenceStore) GetSequence(ctx context.Context, sequenceID string) (*domain.StateSequence, error) {
	seq, err := scanSequence(s.db.QueryRow(ctx,
		`SELECT sequence_id, sequence, frequency, avg_satisfaction, first_seen, last_seen
		 FROM state_sequences WHERE sequence_id = $1`,
		sequenceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &seq, nil
}

func (s *SequenceStore) SaveSequence(ctx context.Context, seq *domain.StateSequence) error {
	states := make([]string, len(seq.Sequence))
	for i, st := range seq.Sequence {
		states[i] = string(st)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO state_sequences (sequence_id, sequence, frequency, avg_satisfaction, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sequence_id) DO UPDATE SET
		    frequency = EXCLUDED.frequency,
		    avg_satisfaction = EXCLUDED.avg_satisfaction,
		    last_seen = EXCLUDED.last_seen`,
		seq.SequenceID, states, seq.Frequency, seq.AvgSatisfaction, seq.FirstSeen, seq.LastSeen,
	)
	return err
}

func (s *SequenceStore) ListSequences(ctx context.Context, minFrequency int) ([]domain.StateSequence, error) {
	rows, err := s.db.Query(ctx,
		`SELECT sequence_id, sequence, frequency, avg_satisfaction, first_seen, last_seen
		 FROM state_sequences
		 WHERE frequency >= $1
		 ORDER BY frequency DESC, sequence_id`,
		minFrequency,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StateSequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (s *SequenceStore) Stats(ctx context.Context) (*domain.SequenceStats, error) {
	st := &domain.SequenceStats{}
	err := s.db.QueryRow(ctx,
		`SELECT
		    COUNT(*),
		    COUNT(DISTINCT state_from),
		    COALESCE(SUM(transition_count), 0),
		    (SELECT COUNT(*) FROM state_sequences)
		 FROM state_transitions`,
	).Scan(&st.Transitions, &st.SourceStates, &st.TotalObservations, &st.Sequences)
	if err != nil {
		return nil, err
	}
	return st, nil
}
