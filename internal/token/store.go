// store.go — серверный реестр выпущенных refresh-токенов.
// Токен одноразовый: Consume удаляет запись (ротация), повторное
// предъявление того же jti отклоняется. Реестр in-memory — рестарт
// gateway отзывает все refresh-токены, что для credential-relaying
// прокси безопаснее персистентности.
package token

import (
	"sync"
	"time"
)

// refreshEntry — запись реестра по jti.
type refreshEntry struct {
	sessionID string
	expiresAt time.Time
}

// RefreshStore — in-memory реестр refresh-токенов с фоновой очисткой.
// Конкурентный доступ защищён мьютексом, по ключу — last-write-wins.
type RefreshStore struct {
	mu      sync.Mutex
	entries map[string]refreshEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRefreshStore создаёт реестр и запускает фоновую очистку
// истёкших записей с указанным интервалом.
func NewRefreshStore(sweepInterval time.Duration) *RefreshStore {
	s := &RefreshStore{
		entries: make(map[string]refreshEntry),
		stopCh:  make(chan struct{}),
	}
	go s.sweeper(sweepInterval)
	return s
}

// Store регистрирует выпущенный refresh-токен.
func (s *RefreshStore) Store(jti, sessionID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = refreshEntry{sessionID: sessionID, expiresAt: expiresAt}
}

// Consume изымает запись по jti. Возвращает sessionID и true, если
// токен был зарегистрирован и не истёк. Запись удаляется в любом
// случае — refresh-токен одноразовый.
func (s *RefreshStore) Consume(jti string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[jti]
	if !ok {
		return "", false
	}
	delete(s.entries, jti)

	if time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.sessionID, true
}

// EvictSession удаляет все записи, привязанные к сессии (logout).
func (s *RefreshStore) EvictSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, entry := range s.entries {
		if entry.sessionID == sessionID {
			delete(s.entries, jti)
		}
	}
}

// Len возвращает количество живых записей (для тестов и метрик).
func (s *RefreshStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Shutdown останавливает фоновую очистку.
func (s *RefreshStore) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// sweeper периодически удаляет истёкшие записи.
func (s *RefreshStore) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for jti, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, jti)
				}
			}
			s.mu.Unlock()
		}
	}
}
