package auth

import "sync"

// Scope memoizes membership and super-admin lookups for the lifetime of one
// gate invocation, so an action that performs several permission checks hits
// the store once per (user, org) pair. A Scope is allocated fresh per call
// chain and discarded with it; it is never shared across requests or
// principals, and it is not a system of record.
type Scope struct {
	mu          sync.Mutex
	memberships map[scopeKey]*Membership // nil value = memoized "no membership"
	superAdmins map[string]bool
}

type scopeKey struct {
	userID string
	orgID  string
}

// NewScope creates an empty per-request resolution cache.
func NewScope() *Scope {
	return &Scope{
		memberships: make(map[scopeKey]*Membership),
		superAdmins: make(map[string]bool),
	}
}

func (s *Scope) membership(userID, orgID string) (*Membership, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[scopeKey{userID, orgID}]
	return m, ok
}

func (s *Scope) setMembership(userID, orgID string, m *Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[scopeKey{userID, orgID}] = m
}

func (s *Scope) superAdmin(userID string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.superAdmins[userID]
	return v, ok
}

func (s *Scope) setSuperAdmin(userID string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.superAdmins[userID] = v
}
