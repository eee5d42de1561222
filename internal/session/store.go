// Пакет session — серверное хранилище учётных данных активных сессий.
// Gateway вынужден держать пару логин/пароль на время сессии: каждый
// запрос к upstream подписывается Basic-Auth. Данные живут только
// в памяти процесса, не пишутся на диск, не попадают в токены и логи.
// Сессия создаётся при login, изымается при logout или по истечении TTL.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/dsgateway/internal/upstream"
)

// entry — одна сессия.
type entry struct {
	creds     upstream.Credentials
	expiresAt time.Time
}

// Store — in-memory хранилище сессий с фоновой очисткой.
// Передаётся в Auth Gateway при конструировании — тесты поднимают
// изолированный экземпляр на каждый случай.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
	ttl      time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New создаёт хранилище сессий. ttl — время жизни сессии
// (совпадает с TTL refresh-токена), sweepInterval — период очистки.
func New(ttl, sweepInterval time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]entry),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go s.sweeper(sweepInterval)
	return s
}

// Create регистрирует новую сессию и возвращает её идентификатор.
func (s *Store) Create(creds upstream.Credentials) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = entry{
		creds:     creds,
		expiresAt: time.Now().Add(s.ttl),
	}
	return id
}

// Get возвращает учётные данные сессии.
// Истёкшая или неизвестная сессия — (zero, false).
func (s *Store) Get(id string) (upstream.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return upstream.Credentials{}, false
	}
	return e.creds, true
}

// Extend продлевает сессию на полный TTL (вызывается при refresh).
func (s *Store) Extend(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return false
	}
	e.expiresAt = time.Now().Add(s.ttl)
	s.sessions[id] = e
	return true
}

// Evict удаляет сессию (logout).
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len возвращает количество живых сессий (для тестов и метрик).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown останавливает фоновую очистку.
func (s *Store) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// sweeper периодически удаляет истёкшие сессии.
func (s *Store) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, e := range s.sessions {
				if now.After(e.expiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
