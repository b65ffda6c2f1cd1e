package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/match"
)

func TestScore(t *testing.T) {
	type (
		inputs struct {
			question  domain.Question
			selected  []string
			timeSpent float64
		}

		outputs struct {
			isCorrect bool
			points    int
		}
	)

	singleChoice := domain.Question{
		QuestionID: "q1",
		TimeLimit:  30,
		Options: []domain.Option{
			{OptionID: "a", Correct: true},
			{OptionID: "b"},
			{OptionID: "c"},
		},
	}

	multiChoice := domain.Question{
		QuestionID: "q2",
		TimeLimit:  20,
		Options: []domain.Option{
			{OptionID: "a", Correct: true},
			{OptionID: "b", Correct: true},
			{OptionID: "c"},
		},
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"correct answer should earn base points plus time bonus": {
			arrange: func() inputs {
				return inputs{question: singleChoice, selected: []string{"a"}, timeSpent: 5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.isCorrect)
				assert.Equal(t, 150, out.points, "100 base + (30-5)*2 bonus")
			},
		},

		"answer at the limit should earn base points only": {
			arrange: func() inputs {
				return inputs{question: singleChoice, selected: []string{"a"}, timeSpent: 30}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.isCorrect)
				assert.Equal(t, 100, out.points)
			},
		},

		"answer inside the grace window should not earn a negative bonus": {
			arrange: func() inputs {
				return inputs{question: singleChoice, selected: []string{"a"}, timeSpent: 31.5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.isCorrect)
				assert.Equal(t, 100, out.points, "timeSpent clamps to the limit before the bonus")
			},
		},

		"fractional bonus should round down": {
			arrange: func() inputs {
				return inputs{question: singleChoice, selected: []string{"a"}, timeSpent: 5.3}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.isCorrect)
				assert.Equal(t, 149, out.points, "floor((30-5.3)*2) = floor(49.4)")
			},
		},

		"wrong option should score zero": {
			arrange: func() inputs {
				return inputs{question: singleChoice, selected: []string{"b"}, timeSpent: 5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.False(t, out.isCorrect)
				assert.Equal(t, 0, out.points)
			},
		},

		"partial selection of a multi-answer question should score zero": {
			arrange: func() inputs {
				return inputs{question: multiChoice, selected: []string{"a"}, timeSpent: 5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.False(t, out.isCorrect, "no partial credit")
				assert.Equal(t, 0, out.points)
			},
		},

		"correct set plus a wrong option should score zero": {
			arrange: func() inputs {
				return inputs{question: multiChoice, selected: []string{"a", "b", "c"}, timeSpent: 5}
			},
			assert: func(t *testing.T, out outputs) {
				assert.False(t, out.isCorrect)
				assert.Equal(t, 0, out.points)
			},
		},

		"full correct set in any order should score": {
			arrange: func() inputs {
				return inputs{question: multiChoice, selected: []string{"b", "a"}, timeSpent: 10}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.isCorrect)
				assert.Equal(t, 120, out.points, "100 base + (20-10)*2 bonus")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			isCorrect, points := match.Score(in.question, in.selected, in.timeSpent)
			tt.assert(t, outputs{isCorrect: isCorrect, points: points})
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	q := domain.Question{
		QuestionID: "q1",
		TimeLimit:  30,
		Options:    []domain.Option{{OptionID: "a", Correct: true}},
	}

	tests := map[string]struct {
		selected  []string
		timeSpent float64
		wantErr   bool
	}{
		"valid submission":                 {selected: []string{"a"}, timeSpent: 10},
		"submission at the grace boundary": {selected: []string{"a"}, timeSpent: 32},
		"empty selection":                  {selected: nil, timeSpent: 10, wantErr: true},
		"negative time spent":              {selected: []string{"a"}, timeSpent: -1, wantErr: true},
		"time spent beyond the grace":      {selected: []string{"a"}, timeSpent: 32.1, wantErr: true},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := match.ValidateSubmission(q, tt.selected, tt.timeSpent)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
