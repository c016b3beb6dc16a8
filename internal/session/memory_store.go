package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"snapvault/internal/models"
)

// MemoryStore keeps session state in-memory. It is safe for concurrent use
// and primarily intended for development or single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	byToken  map[string]models.Session
	tokenIDs map[string]string
}

// NewMemoryStore constructs an in-memory store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken:  make(map[string]models.Session),
		tokenIDs: make(map[string]string),
	}
}

func (s *MemoryStore) Save(_ context.Context, session models.Session) error {
	s.mu.Lock()
	s.byToken[session.Token] = session
	s.tokenIDs[session.ID] = session.Token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (models.Session, bool, error) {
	s.mu.RLock()
	session, ok := s.byToken[token]
	s.mu.RUnlock()
	return session, ok, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (models.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokenIDs[id]
	if !ok {
		return models.Session{}, false, nil
	}
	session, ok := s.byToken[token]
	return session, ok, nil
}

func (s *MemoryStore) Update(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[session.Token]; !ok {
		return ErrSessionNotFound
	}
	s.byToken[session.Token] = session
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.byToken[token]; ok {
		delete(s.tokenIDs, session.ID)
	}
	delete(s.byToken, token)
	return nil
}

func (s *MemoryStore) ListByAlbum(_ context.Context, albumID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, session := range s.byToken {
		if session.AlbumID == albumID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) error {
	s.mu.Lock()
	for token, session := range s.byToken {
		if session.Expired(now) {
			delete(s.tokenIDs, session.ID)
			delete(s.byToken, token)
		}
	}
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
