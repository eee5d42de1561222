package token

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(accessTTL time.Duration) *Manager {
	return NewManager(testSecret, accessTTL, 24*time.Hour, 0)
}

// TestManager_IssueVerifyAccess проверяет полный цикл access-токена:
// subject в токене совпадает с именем пользователя.
func TestManager_IssueVerifyAccess(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	signed, err := m.IssueAccess("alice", "sess-1")
	if err != nil {
		t.Fatalf("IssueAccess ошибка: %v", err)
	}

	claims, err := m.Verify(signed, UseAccess)
	if err != nil {
		t.Fatalf("Verify ошибка: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, ожидался alice", claims.Subject)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, ожидался alice", claims.Username)
	}
	if claims.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, ожидался sess-1", claims.SessionID)
	}
}

// TestManager_ExpiredToken проверяет границу срока действия:
// в пределах TTL токен принимается, после — отклоняется как ErrExpired.
func TestManager_ExpiredToken(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)

	signed, err := m.IssueAccess("bob", "sess-2")
	if err != nil {
		t.Fatalf("IssueAccess ошибка: %v", err)
	}

	// T-ε: токен валиден
	if _, err := m.Verify(signed, UseAccess); err != nil {
		t.Fatalf("токен отклонён до истечения: %v", err)
	}

	// T+ε: токен истёк
	time.Sleep(100 * time.Millisecond)
	_, err = m.Verify(signed, UseAccess)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("ожидалась ErrExpired, получено %v", err)
	}
}

// TestManager_WrongUse проверяет, что refresh-токен не проходит
// как access и наоборот.
func TestManager_WrongUse(t *testing.T) {
	m := newTestManager(15 * time.Minute)

	refresh, _, _, err := m.IssueRefresh("alice", "sess-1")
	if err != nil {
		t.Fatalf("IssueRefresh ошибка: %v", err)
	}

	if _, err := m.Verify(refresh, UseAccess); !errors.Is(err, ErrInvalid) {
		t.Errorf("refresh-токен принят как access: %v", err)
	}
	if _, err := m.Verify(refresh, UseRefresh); err != nil {
		t.Errorf("refresh-токен отклонён по своему назначению: %v", err)
	}
}

// TestManager_TamperedToken проверяет отказ по подписи.
func TestManager_TamperedToken(t *testing.T) {
	m := newTestManager(15 * time.Minute)
	other := NewManager("ffffffffffffffffffffffffffffffff", 15*time.Minute, 24*time.Hour, 0)

	signed, err := other.IssueAccess("mallory", "sess-x")
	if err != nil {
		t.Fatalf("IssueAccess ошибка: %v", err)
	}

	_, err = m.Verify(signed, UseAccess)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("токен с чужой подписью принят: %v", err)
	}
}

// TestRefreshStore_ConsumeOnce проверяет одноразовость refresh-токена.
func TestRefreshStore_ConsumeOnce(t *testing.T) {
	store := NewRefreshStore(time.Minute)
	defer store.Shutdown()

	store.Store("jti-1", "sess-1", time.Now().Add(time.Hour))

	sessionID, ok := store.Consume("jti-1")
	if !ok {
		t.Fatal("первое предъявление отклонено")
	}
	if sessionID != "sess-1" {
		t.Errorf("sessionID = %q", sessionID)
	}

	// Повторное предъявление того же jti — отказ (ротация)
	if _, ok := store.Consume("jti-1"); ok {
		t.Error("повторное предъявление принято, ожидался отказ")
	}
}

// TestRefreshStore_ExpiredEntry проверяет отказ по истёкшей записи.
func TestRefreshStore_ExpiredEntry(t *testing.T) {
	store := NewRefreshStore(time.Minute)
	defer store.Shutdown()

	store.Store("jti-old", "sess-1", time.Now().Add(-time.Second))
	if _, ok := store.Consume("jti-old"); ok {
		t.Error("истёкшая запись принята")
	}
}

// TestRefreshStore_EvictSession проверяет отзыв всех токенов сессии при logout.
func TestRefreshStore_EvictSession(t *testing.T) {
	store := NewRefreshStore(time.Minute)
	defer store.Shutdown()

	store.Store("jti-a", "sess-1", time.Now().Add(time.Hour))
	store.Store("jti-b", "sess-1", time.Now().Add(time.Hour))
	store.Store("jti-c", "sess-2", time.Now().Add(time.Hour))

	store.EvictSession("sess-1")

	if _, ok := store.Consume("jti-a"); ok {
		t.Error("jti-a пережил EvictSession")
	}
	if _, ok := store.Consume("jti-b"); ok {
		t.Error("jti-b пережил EvictSession")
	}
	if _, ok := store.Consume("jti-c"); !ok {
		t.Error("jti-c чужой сессии удалён")
	}
}

// TestRefreshStore_Sweeper проверяет фоновую очистку истёкших записей.
func TestRefreshStore_Sweeper(t *testing.T) {
	store := NewRefreshStore(20 * time.Millisecond)
	defer store.Shutdown()

	store.Store("jti-exp", "sess-1", time.Now().Add(10*time.Millisecond))
	store.Store("jti-live", "sess-2", time.Now().Add(time.Hour))

	time.Sleep(100 * time.Millisecond)

	if store.Len() != 1 {
		t.Errorf("Len = %d, ожидался 1 (истёкшая запись должна быть удалена)", store.Len())
	}
}
