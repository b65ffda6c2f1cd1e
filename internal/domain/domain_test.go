package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/domain"
)

func TestWinner(t *testing.T) {
	tests := map[string]struct {
		results []domain.PlayerResult
		want    string
	}{
		"higher score wins": {
			results: []domain.PlayerResult{
				{UserID: "u1", Score: 100, TotalTimeSpent: 10},
				{UserID: "u2", Score: 250, TotalTimeSpent: 40},
			},
			want: "u2",
		},

		"equal score, lower total time wins": {
			results: []domain.PlayerResult{
				{UserID: "u1", Score: 200, TotalTimeSpent: 25},
				{UserID: "u2", Score: 200, TotalTimeSpent: 18},
			},
			want: "u2",
		},

		"full tie falls back to join order": {
			results: []domain.PlayerResult{
				{UserID: "u1", Score: 200, TotalTimeSpent: 20},
				{UserID: "u2", Score: 200, TotalTimeSpent: 20},
			},
			want: "u1",
		},

		"no results": {
			results: nil,
			want:    "",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, domain.Winner(tt.results))
		})
	}
}

func TestSession_Results(t *testing.T) {
	s := &domain.Session{
		Questions: []domain.Question{
			{QuestionID: "q1"}, {QuestionID: "q2"}, {QuestionID: "q3"},
		},
	}
	s.AddPlayer(&domain.Player{
		UserID: "u1", Username: "alice", Score: 280,
		Answers: []domain.AnswerRecord{
			{QuestionID: "q1", IsCorrect: true, TimeSpent: 5, Points: 150},
			{QuestionID: "q2", IsCorrect: true, TimeSpent: 10, Points: 130},
			{QuestionID: "q3", TimeSpent: 20},
		},
	})
	s.AddPlayer(&domain.Player{
		UserID: "u2", Username: "bob", Score: 120,
		Answers: []domain.AnswerRecord{
			{QuestionID: "q1", IsCorrect: true, TimeSpent: 15, Points: 120},
		},
	})

	got := s.Results()

	require.Equal(t, []domain.PlayerResult{
		{UserID: "u1", Username: "alice", Score: 280, CorrectAnswers: 2, TotalTimeSpent: 35, Accuracy: 66.7},
		{UserID: "u2", Username: "bob", Score: 120, CorrectAnswers: 1, TotalTimeSpent: 15, Accuracy: 33.3},
	}, got, "results should aggregate in join order, accuracy rounded to one decimal")
}

func TestSession_Progression(t *testing.T) {
	s := &domain.Session{
		Questions: []domain.Question{{QuestionID: "q1"}, {QuestionID: "q2"}},
	}
	s.AddPlayer(&domain.Player{UserID: "u1"})
	s.AddPlayer(&domain.Player{UserID: "u2"})

	require.True(t, s.IsFull())
	require.False(t, s.AllReady())

	s.Players["u1"].Ready = true
	s.Players["u2"].Ready = true
	require.True(t, s.AllReady())

	q, ok := s.CurrentQuestion()
	require.True(t, ok)
	require.Equal(t, "q1", q.QuestionID)

	s.Players["u1"].Submitted = true
	require.False(t, s.AllSubmitted())
	s.Players["u2"].Submitted = true
	require.True(t, s.AllSubmitted())

	s.CurrentIndex++
	s.ResetSubmissions()
	require.False(t, s.AllSubmitted())

	q, ok = s.CurrentQuestion()
	require.True(t, ok)
	require.Equal(t, "q2", q.QuestionID)

	s.CurrentIndex++
	_, ok = s.CurrentQuestion()
	require.False(t, ok, "an exhausted question list should have no current question")
}
