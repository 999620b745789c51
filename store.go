package session

import (
	"maps"
	"slices"
	"sync"
)

// Store owns the session state and publishes every committed change to its
// subscribers. Writes come from the Manager and the AvatarHandler only.
//
// Subscribers are called in commit order from the goroutine that committed
// the change. A publication that was superseded by a newer commit before it
// could be delivered is skipped, so listeners never observe state going
// backwards. Callbacks must not invoke manager operations synchronously.
type Store struct {
	mu      sync.RWMutex
	state   SessionState
	version uint64
	closed  bool
	nextSub uint64
	subs    map[uint64]func(SessionState)

	notifyMu sync.Mutex
}

// NewStore returns a store in the loading state.
func NewStore() *Store {
	return &Store{
		state: SessionState{IsLoading: true},
		subs:  make(map[uint64]func(SessionState)),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn for future changes and returns a function that
// removes it. Subscribing to a closed store is a no-op.
func (s *Store) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close drops all subscribers. Later writes are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[uint64]func(SessionState))
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) bootstrapped(u *User) bool {
	return s.commit(func(st *SessionState) {
		st.IsLoading = false
		if u.Valid() {
			st.User = u.clone()
			st.IsAuthenticated = true
			return
		}
		st.User = nil
		st.IsAuthenticated = false
	})
}

// setUser authenticates u. Invalid users are refused.
func (s *Store) setUser(u User) bool {
	if !u.Valid() {
		return false
	}
	return s.commit(func(st *SessionState) {
		st.User = u.clone()
		st.IsAuthenticated = true
	})
}

func (s *Store) clear() bool {
	return s.commit(func(st *SessionState) {
		st.User = nil
		st.IsAuthenticated = false
	})
}

// mergeProfile updates name and avatar of the authenticated user. Nil
// fields are kept.
func (s *Store) mergeProfile(name, avatar *string) bool {
	return s.commit(func(st *SessionState) {
		if !st.IsAuthenticated || st.User == nil {
			return
		}
		if name != nil {
			st.User.Name = *name
		}
		if avatar != nil {
			st.User.Avatar = *avatar
		}
	})
}

// commit applies fn to a copy of the state and publishes the result when it
// differs from the current state.
func (s *Store) commit(fn func(st *SessionState)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	next := s.state.clone()
	fn(&next)
	if next.equal(s.state) {
		s.mu.Unlock()
		return false
	}

	s.state = next
	s.version++
	version := s.version
	snapshot := next.clone()
	subs := make([]func(SessionState), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	s.publish(version, snapshot, subs)
	return true
}

func (s *Store) publish(version uint64, snapshot SessionState, subs []func(SessionState)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	superseded := s.version != version || s.closed
	s.mu.RUnlock()
	if superseded {
		return
	}

	for _, fn := range subs {
		fn(snapshot.clone())
	}
}

func (st SessionState) clone() SessionState {
	st.User = st.User.clone()
	return st
}

func (st SessionState) equal(other SessionState) bool {
	if st.IsAuthenticated != other.IsAuthenticated || st.IsLoading != other.IsLoading {
		return false
	}
	if st.User == nil || other.User == nil {
		return st.User == nil && other.User == nil
	}
	return *st.User == *other.User
}
