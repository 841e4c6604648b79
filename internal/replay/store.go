package replay

// Handler receives every committed snapshot.
type Handler func(Snapshot)

// Handle identifies one subscription.
type Handle uint64

type subscription struct {
	id Handle
	fn Handler
}

// Store is the broadcast point of one replay session. The controller is its
// only writer. It is not safe for concurrent use; a session touches it only
// from its event loop.
type Store struct {
	state  *Snapshot
	subs   []subscription
	nextID Handle
}

// NewStore returns an initialized store.
func NewStore() *Store {
	s := &Store{}
	s.Initialize()
	return s
}

// Initialize resets the snapshot to DefaultSnapshot and drops subscribers.
func (s *Store) Initialize() {
	snap := DefaultSnapshot()
	s.state = &snap
	s.subs = nil
}

// Current returns the last committed snapshot. ok is false after
// Unsubscribe.
func (s *Store) Current() (snap Snapshot, ok bool) {
	if s.state == nil {
		return Snapshot{}, false
	}
	return *s.state, true
}

// Commit replaces the snapshot and hands it to every subscriber in
// registration order.
func (s *Store) Commit(snap Snapshot) {
	if s.state == nil {
		return
	}
	s.state = &snap
	subs := append([]subscription(nil), s.subs...)
	for _, sub := range subs {
		sub.fn(snap)
	}
}

// Subscribe registers fn and immediately replays the current snapshot to it.
// Existing state is kept.
func (s *Store) Subscribe(fn Handler) Handle {
	if fn == nil || s.state == nil {
		return 0
	}
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	fn(*s.state)
	return id
}

// Remove detaches one subscription. Unknown handles are ignored.
func (s *Store) Remove(h Handle) {
	for i, sub := range s.subs {
		if sub.id == h {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of attached handlers.
func (s *Store) Subscribers() int { return len(s.subs) }

// Unsubscribe detaches every handler and clears the state. Commits are
// ignored until Initialize is called again.
func (s *Store) Unsubscribe() {
	s.subs = nil
	s.state = nil
}
