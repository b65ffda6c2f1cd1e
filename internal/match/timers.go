package match

import (
	"fmt"
	"sync"
	"time"
)

// timerSet tracks the armed per-question timeout, keyed by
// (matchID, questionIndex). At most one live timer exists per key; arming a
// key cancels any previous timer for it, and cancel-then-advance leaves no
// window for a stale timer on the old index.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

func timerKey(matchID string, questionIndex int) string {
	return fmt.Sprintf("%s:%d", matchID, questionIndex)
}

func (ts *timerSet) arm(matchID string, questionIndex int, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	key := timerKey(matchID, questionIndex)
	if t, ok := ts.timers[key]; ok {
		t.Stop()
	}
	ts.timers[key] = time.AfterFunc(d, fn)
}

// cancel stops and forgets the timer for the key, reporting whether one was
// armed.
func (ts *timerSet) cancel(matchID string, questionIndex int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	key := timerKey(matchID, questionIndex)
	t, ok := ts.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(ts.timers, key)
	return true
}

// cancelMatch drops every timer belonging to a match.
func (ts *timerSet) cancelMatch(matchID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	prefix := matchID + ":"
	for key, t := range ts.timers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}
