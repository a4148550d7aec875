package things

import "sync"

// SessionList holds the most recently fetched charging sessions. Unlike the
// keyed collections, the backend always sends the sessions as an ordered list
// that replaces the previous one wholesale.
type SessionList struct {
	mu       sync.RWMutex
	sessions []Thing
	onUpdate func([]Thing)
}

// NewSessionList returns an empty list. onUpdate, when non-nil, is invoked
// with a copy of every accepted list (e.g. by an archive sink).
func NewSessionList(onUpdate func([]Thing)) *SessionList {
	return &SessionList{onUpdate: onUpdate}
}

// Replace installs a new session list.
func (l *SessionList) Replace(sessions []Thing) {
	copied := make([]Thing, 0, len(sessions))
	for _, s := range sessions {
		copied = append(copied, CloneThing(s))
	}

	l.mu.Lock()
	l.sessions = copied
	l.mu.Unlock()

	if l.onUpdate != nil {
		l.onUpdate(l.Snapshot())
	}
}

// Clear drops the held list without invoking the update callback.
func (l *SessionList) Clear() {
	l.mu.Lock()
	l.sessions = nil
	l.mu.Unlock()
}

// Len returns the number of held sessions.
func (l *SessionList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Snapshot returns a copy of the held sessions in arrival order.
func (l *SessionList) Snapshot() []Thing {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Thing, 0, len(l.sessions))
	for _, s := range l.sessions {
		result = append(result, CloneThing(s))
	}
	return result
}
