package ui

import (
	"sync"
	"time"
)

// Exchange 是页面上展示的一问一答。
type Exchange struct {
	Question string
	Answer   string
}

type transcript struct {
	exchanges []Exchange
	lastSeen  time.Time
}

// 过期记录的最长清理间隔。
const maxSweepInterval = time.Minute

// transcriptStore 按浏览器会话保存聊天记录，只存在于进程内存中。
// ttl > 0 时，超过 ttl 未访问的会话在读取或定期清理时被删除。
type transcriptStore struct {
	mu        sync.Mutex
	sessions  map[string]*transcript
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func newTranscriptStore(ttl time.Duration) *transcriptStore {
	return &transcriptStore{sessions: make(map[string]*transcript), ttl: ttl, now: time.Now}
}

func (s *transcriptStore) expired(t *transcript, now time.Time) bool {
	return s.ttl > 0 && now.Sub(t.lastSeen) > s.ttl
}

// sweepLocked 删除所有过期会话，调用方持有 s.mu。
func (s *transcriptStore) sweepLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if now.Sub(s.lastSweep) < interval {
		return
	}
	s.lastSweep = now
	for id, t := range s.sessions {
		if s.expired(t, now) {
			delete(s.sessions, id)
		}
	}
}

func (s *transcriptStore) append(sessionID string, ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	t, ok := s.sessions[sessionID]
	if !ok || s.expired(t, now) {
		t = &transcript{}
		s.sessions[sessionID] = t
	}
	t.exchanges = append(t.exchanges, ex)
	t.lastSeen = now
}

// list 返回副本，调用方渲染时不需要持锁。
func (s *transcriptStore) list(sessionID string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.expired(t, now) {
		delete(s.sessions, sessionID)
		return nil
	}
	t.lastSeen = now
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

func (s *transcriptStore) reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *transcriptStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
