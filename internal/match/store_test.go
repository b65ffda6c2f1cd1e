package match_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/match"
)

func TestStore_SaveLoad(t *testing.T) {
	st := makeStore(t)

	sess := &domain.Session{
		MatchID:      "m1",
		JoinCode:     "ABC234",
		QuizID:       "quiz-1",
		Questions:    twoQuestionQuiz(),
		Status:       domain.StatusInProgress,
		CurrentIndex: 1,
		PresentedAt:  time.Date(2026, 1, 2, 12, 0, 30, 0, time.UTC),
		CreatedAt:    time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	sess.AddPlayer(&domain.Player{
		UserID: "u1", Username: "alice", SocketID: "s1",
		Ready: true, Score: 150, Submitted: true,
		Answers: []domain.AnswerRecord{{
			QuestionID:      "q1",
			SelectedOptions: []string{"q1o1"},
			IsCorrect:       true,
			TimeSpent:       5,
			Points:          150,
			SubmitTime:      time.Date(2026, 1, 2, 12, 0, 5, 0, time.UTC),
		}},
	})
	sess.AddPlayer(&domain.Player{UserID: "u2", Username: "bob", SocketID: "s2", Ready: true})

	require.NoError(t, st.Save(context.Background(), sess))

	got, err := st.Load(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, sess, got, "a session should survive the round trip intact")

	matchID, err := st.ResolveJoinCode(context.Background(), "ABC234")
	require.NoError(t, err)
	require.Equal(t, "m1", matchID)
}

func TestStore_LoadMissing(t *testing.T) {
	st := makeStore(t)

	_, err := st.Load(context.Background(), "missing")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	_, err = st.ResolveJoinCode(context.Background(), "NOSUCH")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestStore_Delete(t *testing.T) {
	st := makeStore(t)

	sess := &domain.Session{MatchID: "m1", JoinCode: "ABC234", QuizID: "quiz-1", Status: domain.StatusCompleted}
	require.NoError(t, st.Save(context.Background(), sess))
	require.NoError(t, st.Delete(context.Background(), sess))

	_, err := st.Load(context.Background(), "m1")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	_, err = st.ResolveJoinCode(context.Background(), "ABC234")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code, "the join code index should be deleted with the session")
}

func TestStore_TTL(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	st := match.NewStore(match.StoreConfig{Redis: rc, Prefix: "qduel-test", TTL: time.Minute})

	sess := &domain.Session{MatchID: "m1", QuizID: "quiz-1", Status: domain.StatusWaiting}
	require.NoError(t, st.Save(context.Background(), sess))

	rs.FastForward(2 * time.Minute)

	_, err := st.Load(context.Background(), "m1")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code, "an expired session should read as missing")
}

func makeStore(t *testing.T) *match.Store {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return match.NewStore(match.StoreConfig{Redis: rc, Prefix: "qduel-test"})
}
