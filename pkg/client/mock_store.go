package client

import (
	"sync"
)

// MockStore is an in-memory StateStore for tests and for runs without a state database.
type MockStore struct {
	mu sync.RWMutex

	displayName string
	history     map[string]string
	sessions    map[string]string // session id -> outcome ("" while open)

	// Error injection
	saveConnectionErr error
	getTransportErr   error
}

func NewMockStore() *MockStore {
	return &MockStore{
		history:  make(map[string]string),
		sessions: make(map[string]string),
	}
}

func (s *MockStore) GetLastDisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

func (s *MockStore) SetLastDisplayName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayName = name
	return nil
}

func (s *MockStore) GetLastSuccessfulTransport(serverAddress string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.getTransportErr != nil {
		return "", s.getTransportErr
	}
	return s.history[serverAddress], nil
}

func (s *MockStore) SaveSuccessfulConnection(serverAddress, transportName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveConnectionErr != nil {
		return s.saveConnectionErr
	}
	s.history[serverAddress] = transportName
	return nil
}

func (s *MockStore) RecordSessionStart(sessionID, serverAddress, transportName, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = ""
	return nil
}

func (s *MockStore) RecordSessionEnd(sessionID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = outcome
	return nil
}

// SessionOutcome returns the recorded outcome and whether the session was started at all.
func (s *MockStore) SessionOutcome(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.sessions[sessionID]
	return outcome, ok
}

func (s *MockStore) Close() error {
	return nil
}

// SetSaveConnectionError makes SaveSuccessfulConnection fail.
func (s *MockStore) SetSaveConnectionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveConnectionErr = err
}

// SetGetTransportError makes GetLastSuccessfulTransport fail.
func (s *MockStore) SetGetTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getTransportErr = err
}
