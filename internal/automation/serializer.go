package automation

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Serializer runs submitted functions asynchronously, one at a time and in
// submission order per key. Different keys run in parallel.
type Serializer struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func NewSerializer() *Serializer {
	return &Serializer{pending: make(map[string][]func())}
}

// ConversationKey identifies one (tenant, phone) conversation.
func ConversationKey(tenantID, phone string) string {
	return tenantID + ":" + phone
}

func (s *Serializer) Submit(key string, fn func()) {
	s.wg.Add(1)
	s.mu.Lock()
	queued, busy := s.pending[key]
	s.pending[key] = append(queued, fn)
	s.mu.Unlock()
	if !busy {
		go s.drain(key)
	}
}

func (s *Serializer) drain(key string) {
	for {
		s.mu.Lock()
		queued := s.pending[key]
		if len(queued) == 0 {
			delete(s.pending, key)
			s.mu.Unlock()
			return
		}
		fn := queued[0]
		s.pending[key] = queued[1:]
		s.mu.Unlock()

		func() {
			defer s.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().Interface("panic", rec).Str("key", key).Msg("Serialized handler panicked")
				}
			}()
			fn()
		}()
	}
}

// Wait blocks until every submitted function has returned.
func (s *Serializer) Wait() {
	s.wg.Wait()
}
