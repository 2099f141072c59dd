package sessions

import (
	"anonfeedback/models"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemStore keeps sessions in a bounded, expiring LRU. The LRU's own TTL only
// frees memory; it must be longer than the upload TTL.
type MemStore struct {
	mu   sync.Mutex
	Data *expirable.LRU[int64, models.PendingUploadSession]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, retention time.Duration) *MemStore {
	return &MemStore{
		Data: expirable.NewLRU[int64, models.PendingUploadSession](capacity, nil, retention),
	}
}

func (s *MemStore) Get(_ context.Context, userID int64) (*models.PendingUploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data.Peek(userID)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MemStore) Put(_ context.Context, sess *models.PendingUploadSession) (*models.PendingUploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev *models.PendingUploadSession
	if v, ok := s.Data.Peek(sess.RealUserID); ok {
		prev = &v
	}
	s.Data.Add(sess.RealUserID, *sess)
	return prev, nil
}

func (s *MemStore) PutIfAbsent(_ context.Context, sess *models.PendingUploadSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data.Contains(sess.RealUserID) {
		return false, nil
	}
	s.Data.Add(sess.RealUserID, *sess)
	return true, nil
}

func (s *MemStore) Take(_ context.Context, userID, displayNumber int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data.Peek(userID)
	if !ok || v.DisplayNumber != displayNumber {
		return false, nil
	}
	s.Data.Remove(userID)
	return true, nil
}

func (s *MemStore) List(_ context.Context) ([]*models.PendingUploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.Data.Values()
	out := make([]*models.PendingUploadSession, 0, len(vals))
	for i := range vals {
		out = append(out, &vals[i])
	}
	return out, nil
}
