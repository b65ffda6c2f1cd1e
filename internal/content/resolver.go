// Package content resolves quiz ids to their question lists. The question
// bank itself (CRUD, imports, categories) is owned by another service; this
// is a read-only view over its tables.
package content

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
)

type Resolver struct {
	db *pgxpool.Pool
}

func NewResolver(db *pgxpool.Pool) *Resolver {
	return &Resolver{db: db}
}

// ResolveQuestions returns the ordered question list for a quiz, options and
// correctness flags included. The list is treated as immutable by callers.
func (r *Resolver) ResolveQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	const questionStmt = `
SELECT question_id, question_text, time_limit
FROM questions
WHERE quiz_id = $1
ORDER BY position;`

	rows, err := r.db.Query(ctx, questionStmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("content: query questions: %w", err)
	}

	questions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := row.Scan(&q.QuestionID, &q.Text, &q.TimeLimit); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("content: collect questions: %w", err)
	}

	if len(questions) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: %s", quizID))
	}

	index := make(map[string]int, len(questions))
	for i, q := range questions {
		index[q.QuestionID] = i
	}

	const optionStmt = `
SELECT o.question_id, o.option_id, o.option_text, o.is_correct
FROM question_options o
JOIN questions q ON q.question_id = o.question_id
WHERE q.quiz_id = $1
ORDER BY o.question_id, o.position;`

	optRows, err := r.db.Query(ctx, optionStmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("content: query options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var questionID string
		var o domain.Option
		if err := optRows.Scan(&questionID, &o.OptionID, &o.Text, &o.Correct); err != nil {
			return nil, fmt.Errorf("content: scan option: %w", err)
		}
		if i, ok := index[questionID]; ok {
			questions[i].Options = append(questions[i].Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("content: iterate options: %w", err)
	}

	return questions, nil
}
