package master

import "sync"

// route is one match's routing state: its owning execution unit and the
// transport handles of its connected participants.
type route struct {
	unitID  string
	sockets map[string]string // socket id -> user id
	users   map[string]string // user id -> socket id
}

// Table maps matches to owning units and connected sockets. One backing
// collection with secondary indices per socket and per user, all updated
// under the same lock so the views can never diverge.
type Table struct {
	mu       sync.RWMutex
	routes   map[string]*route // by match id
	bySocket map[string]string // socket id -> match id
	byUser   map[string]string // user id -> match id
}

func NewTable() *Table {
	return &Table{
		routes:   make(map[string]*route),
		bySocket: make(map[string]string),
		byUser:   make(map[string]string),
	}
}

// Assign records the owning unit for a match. The first assignment wins;
// re-assigning an owned match is a no-op returning the existing owner.
func (t *Table) Assign(matchID, unitID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.routes[matchID]; ok {
		return r.unitID
	}

	t.routes[matchID] = &route{
		unitID:  unitID,
		sockets: make(map[string]string),
		users:   make(map[string]string),
	}
	return unitID
}

// Owner returns the unit owning a match.
func (t *Table) Owner(matchID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.routes[matchID]
	if !ok {
		return "", false
	}
	return r.unitID, true
}

// Bind attaches a socket (and its user) to a match. A user reconnecting on a
// new socket replaces their old binding.
func (t *Table) Bind(matchID, socketID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[matchID]
	if !ok {
		return
	}

	if old, ok := r.users[userID]; ok && old != socketID {
		delete(r.sockets, old)
		delete(t.bySocket, old)
	}

	r.sockets[socketID] = userID
	r.users[userID] = socketID
	t.bySocket[socketID] = matchID
	t.byUser[userID] = matchID
}

// UnbindSocket detaches a disconnected socket. The user stays on the match
// roster; only the transport handle goes away.
func (t *Table) UnbindSocket(socketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matchID, ok := t.bySocket[socketID]
	if !ok {
		return
	}
	delete(t.bySocket, socketID)

	if r, ok := t.routes[matchID]; ok {
		if userID, ok := r.sockets[socketID]; ok {
			delete(r.sockets, socketID)
			if r.users[userID] == socketID {
				delete(r.users, userID)
			}
		}
	}
}

// MatchBySocket returns the match a connected socket is bound to.
func (t *Table) MatchBySocket(socketID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matchID, ok := t.bySocket[socketID]
	return matchID, ok
}

// SocketsForMatch returns every connected socket for a match, minus the
// exclusion list.
func (t *Table) SocketsForMatch(matchID string, exclude ...string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.routes[matchID]
	if !ok {
		return nil
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	sockets := make([]string, 0, len(r.sockets))
	for id := range r.sockets {
		if !excluded[id] {
			sockets = append(sockets, id)
		}
	}
	return sockets
}

// Remove drops a match and every index entry pointing at it.
func (t *Table) Remove(matchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[matchID]
	if !ok {
		return
	}

	for socketID := range r.sockets {
		delete(t.bySocket, socketID)
	}
	for userID := range r.users {
		if t.byUser[userID] == matchID {
			delete(t.byUser, userID)
		}
	}
	delete(t.routes, matchID)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
