package credentials

import "sync"

// MemoryStore keeps credentials for the lifetime of the process
type MemoryStore struct {
	mu    sync.Mutex
	creds Credentials
}

// NewMemoryStore creates a store seeded with creds
func NewMemoryStore(creds Credentials) *MemoryStore {
	return &MemoryStore{creds: creds}
}

func (s *MemoryStore) Load() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *MemoryStore) Save(token, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.AccessToken = token
	s.creds.Code = code
}

func (s *MemoryStore) Delete(removeCode bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.AccessToken = ""
	if removeCode {
		s.creds.Code = ""
	}
}
