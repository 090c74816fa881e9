// Package roster caches the read-only user roster fetched on connect.
package roster

import (
	"sort"
	"sync"

	"github.com/costclaim/groupview/internal/protocol"
)

type Store struct {
	mu    sync.RWMutex
	users []protocol.User
}

// Replace swaps in a new roster, sorted ascending by user_id.
func (s *Store) Replace(users []protocol.User) {
	sorted := make([]protocol.User, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	s.mu.Lock()
	s.users = sorted
	s.mu.Unlock()
}

// All returns the roster in user_id order.
func (s *Store) All() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.User, len(s.users))
	copy(out, s.users)
	return out
}

// Name resolves a user_id to a display name.
func (s *Store) Name(userID int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.UserID == userID {
			return u.Name, true
		}
	}
	return "", false
}
