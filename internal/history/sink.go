// Package history writes completed-match results to long-term storage for
// reporting. It consumes match.completed events; a failure here is logged by
// the bus and never blocks the completion broadcast, which has already gone
// out by the time the event is published.
package history

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/event"
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Sink struct {
	db *pgxpool.Pool
}

func NewSink(c Config) *Sink {
	s := &Sink{db: c.DB}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameMatchCompleted, func(ctx context.Context, e event.Event) error {
			return s.RecordMatch(ctx, e.(domain.EventMatchCompleted))
		})
	}

	return s
}

// RecordMatch upserts the match record and one result row per player. Keys
// are (match_id) and (match_id, user_id), so replaying the same completion
// event is harmless.
func (s *Sink) RecordMatch(ctx context.Context, e domain.EventMatchCompleted) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const matchStmt = `
INSERT INTO matches (match_id, quiz_id, winner_id, total_questions, completed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (match_id) DO NOTHING;`

	_, err = tx.Exec(ctx, matchStmt, e.MatchID, e.QuizID, e.WinnerID, e.TotalQuestions, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("history: insert match: %w", err)
	}

	const resultStmt = `
INSERT INTO match_results (match_id, user_id, username, score, correct_answers, total_time_spent, accuracy, is_winner)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (match_id, user_id) DO UPDATE SET
	score = EXCLUDED.score,
	correct_answers = EXCLUDED.correct_answers,
	total_time_spent = EXCLUDED.total_time_spent,
	accuracy = EXCLUDED.accuracy,
	is_winner = EXCLUDED.is_winner;`

	for _, r := range e.Results {
		_, err = tx.Exec(ctx, resultStmt,
			e.MatchID, r.UserID, r.Username, r.Score, r.CorrectAnswers, r.TotalTimeSpent, r.Accuracy, r.UserID == e.WinnerID)
		if err != nil {
			return fmt.Errorf("history: insert result for %s: %w", r.UserID, err)
		}
	}

	return tx.Commit(ctx)
}
