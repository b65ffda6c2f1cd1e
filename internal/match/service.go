// Package match implements the execution-unit core: the per-duel state
// machine, answer scoring, question timeouts, and the worker-local cache in
// front of the durable session store.
package match

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/qduel/internal/domain"
	"github.com/victornm/qduel/internal/errors"
	"github.com/victornm/qduel/internal/event"
	"github.com/victornm/qduel/internal/protocol"
	"github.com/victornm/qduel/internal/telemetry"
)

const (
	// DefaultAutoStartDelay lets both clients render the "connected" state
	// before the first question lands.
	DefaultAutoStartDelay = 1500 * time.Millisecond
	// DefaultPurgeDelay keeps a completed session around long enough for a
	// reconnecting client to fetch the results.
	DefaultPurgeDelay = 30 * time.Second

	commandTimeout = 10 * time.Second
)

// ContentResolver resolves a quiz id to its ordered, immutable question
// list, correctness flags included. Resolution is idempotent; content never
// changes after a match is created.
type ContentResolver interface {
	ResolveQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
}

// Emitter delivers unit-originated events, either to one transport handle or
// to every handle attached to a match minus an exclusion list. The master
// implements it.
type Emitter interface {
	ToSocket(socketID string, e protocol.ServerEvent)
	ToMatch(matchID string, e protocol.ServerEvent, excludeSockets ...string)
}

type Config struct {
	Store    *Store
	Content  ContentResolver
	Emitter  Emitter
	EventBus *event.Bus

	// AutoStartDelay <= 0 starts the match synchronously once both players
	// are ready. PurgeDelay <= 0 purges completed sessions synchronously.
	AutoStartDelay time.Duration
	PurgeDelay     time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Service drives every session it hosts. All command handlers and timer
// callbacks serialize on one mutex, so a submission check and the advance
// decision it triggers are atomic per unit.
type Service struct {
	store   *Store
	content ContentResolver
	emitter Emitter
	eb      *event.Bus

	autoStartDelay time.Duration
	purgeDelay     time.Duration
	now            func() time.Time
	log            *slog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.Session
	timers   *timerSet
}

func NewService(c Config) *Service {
	s := &Service{
		store:          c.Store,
		content:        c.Content,
		emitter:        c.Emitter,
		eb:             c.EventBus,
		autoStartDelay: c.AutoStartDelay,
		purgeDelay:     c.PurgeDelay,
		now:            c.Now,
		log:            c.Logger,
		sessions:       make(map[string]*domain.Session),
		timers:         newTimerSet(),
	}

	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	return s
}

// SetEmitter installs the delivery side after construction. The master hub
// implements Emitter but is itself built from the units, so the wiring cycle
// closes here, before any command is dispatched.
func (s *Service) SetEmitter(e Emitter) {
	s.emitter = e
}

// ActiveSessions reports how many sessions this unit currently caches.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CreateMatch originates a new session: resolve content once, persist, then
// confirm to the creator. This is the only handler that cannot rehydrate.
func (s *Service) CreateMatch(ctx context.Context, cmd protocol.Command) error {
	questions, err := s.content.ResolveQuestions(ctx, cmd.QuizID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz has no questions: %s", cmd.QuizID))
	}

	// The master pre-generates the match id so it can record unit ownership
	// before dispatching; generate one only when called without it.
	matchID := cmd.MatchID
	if matchID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Internal(err)
		}
		matchID = id.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &domain.Session{
		MatchID:   matchID,
		JoinCode:  newJoinCode(),
		QuizID:    cmd.QuizID,
		Questions: questions,
		Status:    domain.StatusWaiting,
		Players:   make(map[string]*domain.Player),
		CreatedAt: s.now(),
	}
	sess.AddPlayer(&domain.Player{
		UserID:   cmd.UserID,
		Username: cmd.Username,
		SocketID: cmd.SocketID,
	})

	// Creation is the one transition that fails hard on a store error:
	// nothing has been announced yet, so there is nothing to keep.
	if err := s.store.Save(ctx, sess); err != nil {
		return errors.Internal(err)
	}

	s.sessions[sess.MatchID] = sess
	telemetry.ActiveSessions.Inc()

	s.emitter.ToSocket(cmd.SocketID, protocol.ServerEvent{
		Event: protocol.EventMatchConnected,
		Data: protocol.MatchConnectedPayload{
			MatchID:  sess.MatchID,
			JoinCode: sess.JoinCode,
			Status:   sess.Status,
			Players:  protocol.Roster(sess),
		},
	})

	return nil
}

// JoinMatch adds the second player, or reconnects a participant who is
// already on the roster.
func (s *Service) JoinMatch(ctx context.Context, cmd protocol.Command) error {
	matchID := cmd.MatchID
	if matchID == "" && cmd.JoinCode != "" {
		var err error
		matchID, err = s.store.ResolveJoinCode(ctx, cmd.JoinCode)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(ctx, matchID)
	if err != nil {
		return err
	}

	if p, ok := sess.Player(cmd.UserID); ok {
		s.reconnect(ctx, sess, p, cmd.SocketID)
		return nil
	}

	if sess.Status != domain.StatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("match already started: %s", matchID))
	}
	if sess.IsFull() {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("match is full: %s", matchID))
	}

	sess.AddPlayer(&domain.Player{
		UserID:   cmd.UserID,
		Username: cmd.Username,
		SocketID: cmd.SocketID,
	})
	s.persist(ctx, sess)

	s.emitter.ToSocket(cmd.SocketID, protocol.ServerEvent{
		Event: protocol.EventMatchJoined,
		Data: protocol.MatchConnectedPayload{
			MatchID:  sess.MatchID,
			JoinCode: sess.JoinCode,
			Status:   sess.Status,
			Players:  protocol.Roster(sess),
		},
	})
	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventPlayerListUpdated,
		Data:  protocol.PlayerListUpdatedPayload{Players: protocol.Roster(sess)},
	})

	return nil
}

// ConnectToMatch reconnects a recorded participant and replays their view of
// the session without mutating progression state.
func (s *Service) ConnectToMatch(ctx context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(ctx, cmd.MatchID)
	if err != nil {
		return err
	}

	p, ok := sess.Player(cmd.UserID)
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("user %s is not a participant of match %s", cmd.UserID, cmd.MatchID))
	}

	s.reconnect(ctx, sess, p, cmd.SocketID)
	return nil
}

// PlayerReady marks a player ready. When the roster is full and everyone is
// ready, the start is scheduled after a short delay; the delayed trigger
// re-validates at fire time so it can never start a match twice.
func (s *Service) PlayerReady(ctx context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(ctx, cmd.MatchID)
	if err != nil {
		return err
	}

	if sess.Status != domain.StatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("match is not waiting: %s", cmd.MatchID))
	}

	p, ok := sess.Player(cmd.UserID)
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("user %s is not a participant of match %s", cmd.UserID, cmd.MatchID))
	}

	p.Ready = true
	p.SocketID = cmd.SocketID
	s.persist(ctx, sess)

	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventPlayerReady,
		Data:  protocol.PlayerReadyPayload{UserID: p.UserID, IsReady: true},
	})

	if sess.IsFull() && sess.AllReady() {
		if s.autoStartDelay <= 0 {
			s.startMatch(ctx, sess.MatchID)
			return nil
		}
		matchID := sess.MatchID
		time.AfterFunc(s.autoStartDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			s.mu.Lock()
			defer s.mu.Unlock()
			s.startMatch(ctx, matchID)
		})
	}

	return nil
}

// startMatch fires the WAITING -> IN_PROGRESS transition. Caller holds the
// lock. Re-checks the guard so a racing trigger is a no-op.
func (s *Service) startMatch(ctx context.Context, matchID string) {
	sess, ok := s.sessions[matchID]
	if !ok {
		return
	}
	if sess.Status != domain.StatusWaiting || !sess.IsFull() || !sess.AllReady() {
		return
	}

	sess.Status = domain.StatusInProgress
	sess.CurrentIndex = 0
	sess.PresentedAt = s.now()
	sess.ResetSubmissions()
	s.persist(ctx, sess)

	q, _ := sess.CurrentQuestion()
	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventMatchStarted,
		Data: protocol.QuestionPayload{
			Question:       protocol.SanitizeQuestion(q),
			QuestionIndex:  0,
			TotalQuestions: len(sess.Questions),
		},
	})

	s.armQuestionTimer(sess)
	telemetry.MatchesStarted.Inc()

	s.log.Info("match: started", "match", sess.MatchID, "questions", len(sess.Questions))
}

// SubmitAnswer records and scores one answer. Duplicate submissions for the
// same question index are a silent no-op, which makes the command safe to
// retry from an unreliable transport.
func (s *Service) SubmitAnswer(ctx context.Context, cmd protocol.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.session(ctx, cmd.MatchID)
	if err != nil {
		return err
	}

	if sess.Status != domain.StatusInProgress {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("match is not in progress: %s", cmd.MatchID))
	}

	p, ok := sess.Player(cmd.UserID)
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("user %s is not a participant of match %s", cmd.UserID, cmd.MatchID))
	}

	if p.Submitted {
		return nil
	}

	// The stored index is authoritative; the client-sent question id is
	// advisory only.
	q, ok := sess.CurrentQuestion()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no current question for match %s", cmd.MatchID))
	}

	if err := ValidateSubmission(q, cmd.SelectedOptions, cmd.TimeSpent); err != nil {
		return err
	}

	isCorrect, points := s.score(q, cmd.SelectedOptions, cmd.TimeSpent)

	p.SocketID = cmd.SocketID
	p.Answers = append(p.Answers, domain.AnswerRecord{
		QuestionID:      q.QuestionID,
		SelectedOptions: cmd.SelectedOptions,
		IsCorrect:       isCorrect,
		TimeSpent:       cmd.TimeSpent,
		Points:          points,
		SubmitTime:      s.now(),
	})
	p.Score += points
	p.Submitted = true
	s.persist(ctx, sess)
	telemetry.AnswersSubmitted.Inc()

	s.emitter.ToSocket(cmd.SocketID, protocol.ServerEvent{
		Event: protocol.EventAnswerResult,
		Data: protocol.AnswerResultPayload{
			IsCorrect:      isCorrect,
			Points:         points,
			CorrectOptions: correctOptionList(q),
			TotalScore:     p.Score,
		},
	})
	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventOpponentSubmitted,
		Data:  protocol.OpponentSubmittedPayload{UserID: p.UserID, Username: p.Username},
	}, cmd.SocketID)

	if !sess.AllSubmitted() {
		s.emitter.ToSocket(cmd.SocketID, protocol.ServerEvent{
			Event: protocol.EventWaitingForOpponent,
			Data: protocol.WaitingForOpponentPayload{
				Message:    "waiting for opponent to answer",
				WaitingFor: pendingUsernames(sess),
			},
		})
		return nil
	}

	// Both submitted early: the pending timeout must die before the index
	// moves, so it can never fire against the next question.
	s.timers.cancel(sess.MatchID, sess.CurrentIndex)
	s.advance(ctx, sess)

	return nil
}

// HandleTimeout is the armed-timer entry point for (matchID, questionIndex).
// It re-validates against current state: a session that already advanced or
// completed by the other path makes this a no-op.
func (s *Service) HandleTimeout(matchID string, questionIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[matchID]
	if !ok {
		return
	}
	if sess.Status != domain.StatusInProgress || sess.CurrentIndex != questionIndex {
		return
	}

	s.timers.cancel(matchID, questionIndex)

	// An unanswered question counts as a zero-point non-submission: the flag
	// is forced, no answer record is appended.
	for _, p := range sess.Players {
		p.Submitted = true
	}
	s.persist(ctx, sess)
	telemetry.QuestionTimeouts.Inc()

	s.emitter.ToMatch(matchID, protocol.ServerEvent{
		Event: protocol.EventQuestionTimeout,
		Data: protocol.QuestionTimeoutPayload{
			Message:       "time is up",
			QuestionIndex: questionIndex,
		},
	})

	s.advance(ctx, sess)
}

// advance moves to the next question, or completes the match when the list
// is exhausted. Caller holds the lock and has cancelled the old timer.
func (s *Service) advance(ctx context.Context, sess *domain.Session) {
	next := sess.CurrentIndex + 1
	if next >= len(sess.Questions) {
		s.complete(ctx, sess)
		return
	}

	sess.CurrentIndex = next
	sess.ResetSubmissions()
	sess.PresentedAt = s.now()
	s.persist(ctx, sess)

	q, _ := sess.CurrentQuestion()
	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventNextQuestion,
		Data: protocol.QuestionPayload{
			Question:       protocol.SanitizeQuestion(q),
			QuestionIndex:  next,
			TotalQuestions: len(sess.Questions),
		},
	})

	s.armQuestionTimer(sess)
}

// complete fires the terminal transition, persists final aggregates, then
// broadcasts results and hands them to the history sink.
func (s *Service) complete(ctx context.Context, sess *domain.Session) {
	sess.Status = domain.StatusCompleted
	sess.CompletedAt = s.now()

	results := sess.Results()
	winner := domain.Winner(results)
	s.persist(ctx, sess)

	s.emitter.ToMatch(sess.MatchID, protocol.ServerEvent{
		Event: protocol.EventMatchCompleted,
		Data:  protocol.ResultsPayload(results, winner, sess.CompletedAt),
	})

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventMatchCompleted{
			MatchID:        sess.MatchID,
			QuizID:         sess.QuizID,
			Results:        results,
			WinnerID:       winner,
			TotalQuestions: len(sess.Questions),
			CompletedAt:    sess.CompletedAt,
		})
	}

	telemetry.MatchesCompleted.Inc()
	s.log.Info("match: completed", "match", sess.MatchID, "winner", winner)

	matchID := sess.MatchID
	if s.purgeDelay <= 0 {
		s.purge(ctx, matchID)
		return
	}
	time.AfterFunc(s.purgeDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		s.purge(ctx, matchID)
	})
}

// purge drops a completed session from the cache and the durable store.
// Caller holds the lock.
func (s *Service) purge(ctx context.Context, matchID string) {
	sess, ok := s.sessions[matchID]
	if !ok {
		return
	}

	s.timers.cancelMatch(matchID)
	delete(s.sessions, matchID)
	telemetry.ActiveSessions.Dec()

	if err := s.store.Delete(ctx, sess); err != nil {
		s.log.Error("match: purge from store failed", "match", matchID, "error", err)
	}
}

// session returns the cached session or rehydrates it from the durable
// store. Every handler except create goes through here, so a command routed
// to a freshly restarted unit still finds its match.
func (s *Service) session(ctx context.Context, matchID string) (*domain.Session, error) {
	if matchID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("match id is required"))
	}

	if sess, ok := s.sessions[matchID]; ok {
		return sess, nil
	}

	sess, err := s.store.Load(ctx, matchID)
	if err != nil {
		return nil, err
	}

	// Content is immutable, so re-resolving is idempotent; the persisted
	// copy covers a briefly unreachable content source.
	if qs, err := s.content.ResolveQuestions(ctx, sess.QuizID); err != nil {
		s.log.Warn("match: re-resolve content failed, using persisted questions",
			"match", matchID, "quiz", sess.QuizID, "error", err)
	} else if len(qs) > 0 {
		sess.Questions = qs
	}

	s.sessions[matchID] = sess
	telemetry.ActiveSessions.Inc()

	if sess.Status == domain.StatusInProgress {
		s.rearmAfterRehydrate(sess)
	}

	s.log.Info("match: rehydrated session", "match", matchID, "status", string(sess.Status))
	return sess, nil
}

// rearmAfterRehydrate restores the in-flight question timeout with whatever
// time is left on the clock. HandleTimeout re-validates, so an already
// expired question times out immediately and harmlessly.
func (s *Service) rearmAfterRehydrate(sess *domain.Session) {
	q, ok := sess.CurrentQuestion()
	if !ok {
		return
	}

	remaining := time.Duration(q.TimeLimit)*time.Second - s.now().Sub(sess.PresentedAt)
	if remaining < 0 {
		remaining = 0
	}

	matchID, idx := sess.MatchID, sess.CurrentIndex
	s.timers.arm(matchID, idx, remaining, func() {
		s.HandleTimeout(matchID, idx)
	})
}

func (s *Service) armQuestionTimer(sess *domain.Session) {
	q, ok := sess.CurrentQuestion()
	if !ok {
		return
	}

	matchID, idx := sess.MatchID, sess.CurrentIndex
	s.timers.arm(matchID, idx, time.Duration(q.TimeLimit)*time.Second, func() {
		s.HandleTimeout(matchID, idx)
	})
}

// reconnect refreshes a participant's transport handle and replays a
// targeted snapshot of the session. Progression state is never mutated.
func (s *Service) reconnect(ctx context.Context, sess *domain.Session, p *domain.Player, socketID string) {
	p.SocketID = socketID
	s.persist(ctx, sess)

	if sess.Status == domain.StatusCompleted {
		results := sess.Results()
		s.emitter.ToSocket(socketID, protocol.ServerEvent{
			Event: protocol.EventMatchCompleted,
			Data:  protocol.ResultsPayload(results, domain.Winner(results), sess.CompletedAt),
		})
		return
	}

	payload := protocol.MatchReconnectedPayload{
		Status:              sess.Status,
		Players:             protocol.Roster(sess),
		QuestionIndex:       sess.CurrentIndex,
		TotalQuestions:      len(sess.Questions),
		PlayerScore:         p.Score,
		PlayerAnswers:       protocol.AnswerHistory(p),
		HasSubmittedCurrent: p.Submitted,
	}

	if sess.Status == domain.StatusInProgress {
		if q, ok := sess.CurrentQuestion(); ok {
			data := protocol.SanitizeQuestion(q)
			payload.Question = &data
		}
		elapsed := s.now().Sub(sess.PresentedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		payload.TimeElapsed = elapsed
	}

	s.emitter.ToSocket(socketID, protocol.ServerEvent{
		Event: protocol.EventMatchReconnected,
		Data:  payload,
	})
}

// persist writes through to the durable store. A write failure is logged and
// the in-memory mutation stands; the TTL bounds how long a crash can serve
// stale state.
func (s *Service) persist(ctx context.Context, sess *domain.Session) {
	if err := s.store.Save(ctx, sess); err != nil {
		s.log.Error("match: persist failed, keeping in-memory state",
			"match", sess.MatchID, "error", err)
	}
}

func pendingUsernames(sess *domain.Session) []string {
	var names []string
	for _, p := range sess.PlayerList() {
		if !p.Submitted {
			names = append(names, p.Username)
		}
	}
	return names
}

func correctOptionList(q domain.Question) []string {
	ids := make([]string, 0)
	for id := range q.CorrectOptionIDs() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newJoinCode() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable anyway; fall back to the
		// match id path by returning empty.
		return ""
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b)
}
