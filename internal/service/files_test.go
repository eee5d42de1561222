package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/dsgateway/internal/upstream"
	"github.com/bigkaa/dsgateway/internal/whereclause"
)

// mockFetcher — mock upstream-клиента. Потокобезопасен:
// fan-out вызывает Fetch из нескольких горутин.
type mockFetcher struct {
	mu        sync.Mutex
	fetchFunc func(ctx context.Context, path string, creds upstream.Credentials, query url.Values) (*upstream.Result, error)
	paths     []string
	queries   []url.Values
}

func (m *mockFetcher) Fetch(ctx context.Context, path string, creds upstream.Credentials, query url.Values) (*upstream.Result, error) {
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, path, creds, query)
	}
	return jsonResult(200, `{"element":[],"hasMore":false,"superCount":0}`), nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paths)
}

func jsonResult(status int, body string) *upstream.Result {
	return &upstream.Result{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

var testCreds = upstream.Credentials{Username: "admin", Password: "secret"}

func TestFilesService_ListDatastores(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, upstream.Credentials, url.Values) (*upstream.Result, error) {
			return jsonResult(200, `{"element":[{"id":"com.example.A"}]}`), nil
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	res, err := svc.ListDatastores(context.Background(), testCreds)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	defer res.Body.Close()

	if fetcher.paths[0] != "/datastores" {
		t.Errorf("ожидался путь /datastores, получен %q", fetcher.paths[0])
	}
	if res.StatusCode != 200 {
		t.Errorf("ожидался статус 200, получен %d", res.StatusCode)
	}
}

func TestFilesService_ListFilesForwardsQuery(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := NewFilesService(fetcher, nil, slog.Default())

	res, err := svc.ListFiles(context.Background(), testCreds, "com.example.A", FileQuery{
		Where:    "status = 'DONE'",
		SortBy:   "creationTime",
		FromRows: "0",
		Rows:     "100",
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	defer res.Body.Close()

	if want := "/datastores/com.example.A/files"; fetcher.paths[0] != want {
		t.Errorf("ожидался путь %q, получен %q", want, fetcher.paths[0])
	}

	q := fetcher.queries[0]
	if q.Get("where") != "status = 'DONE'" {
		t.Errorf("where не проброшен: %q", q.Get("where"))
	}
	if q.Get("sortBy") != "creationTime" || q.Get("fromRows") != "0" || q.Get("rows") != "100" {
		t.Errorf("параметры пагинации не проброшены: %v", q)
	}
}

func TestFilesService_ListFilesUnsafeWhere(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := NewFilesService(fetcher, nil, slog.Default())

	_, err := svc.ListFiles(context.Background(), testCreds, "com.example.A", FileQuery{
		Where: "status = 'x'; DROP TABLE files",
	})

	var wcErr *whereclause.Error
	if !errors.As(err, &wcErr) {
		t.Fatalf("ожидалась ошибка whereclause, получено %v", err)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("upstream не должен вызываться при небезопасном where, вызовов: %d", fetcher.callCount())
	}
}

func TestFilesService_ListFilesMultiMergesSorted(t *testing.T) {
	bodies := map[string]string{
		"/datastores/ds.a/files": `{"element":[{"fileName":"a1","creationTime":"300"},{"fileName":"a2","creationTime":"100"}],"hasMore":false,"superCount":2}`,
		"/datastores/ds.b/files": `{"element":[{"fileName":"b1","creationTime":"200"}],"hasMore":true,"superCount":5}`,
	}
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, path string, _ upstream.Credentials, _ url.Values) (*upstream.Result, error) {
			return jsonResult(200, bodies[path]), nil
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	agg, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.b"}, FileQuery{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(agg.Element) != 3 {
		t.Fatalf("ожидалось 3 записи, получено %d", len(agg.Element))
	}

	// Сортировка по убыванию creationTime независимо от порядка веток
	wantOrder := []string{"a1", "b1", "a2"}
	for i, want := range wantOrder {
		if got := agg.Element[i]["fileName"]; got != want {
			t.Errorf("позиция %d: ожидался %q, получен %v", i, want, got)
		}
	}

	// Каждая запись помечена источником
	if agg.Element[0]["datastoreId"] != "ds.a" || agg.Element[1]["datastoreId"] != "ds.b" {
		t.Error("записи должны быть помечены datastoreId источника")
	}

	if agg.SuperCount != 7 {
		t.Errorf("ожидался superCount 7, получен %d", agg.SuperCount)
	}
	if !agg.HasMore {
		t.Error("hasMore должен быть true, если хотя бы один источник сообщил о продолжении")
	}
	if agg.FailedSources != 0 {
		t.Errorf("ожидалось 0 отказавших источников, получено %d", agg.FailedSources)
	}
}

func TestFilesService_ListFilesMultiPartialFailure(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, path string, _ upstream.Credentials, _ url.Values) (*upstream.Result, error) {
			if path == "/datastores/ds.bad/files" {
				return nil, upstream.ErrUpstreamUnreachable
			}
			return jsonResult(200, `{"element":[{"fileName":"ok","creationTime":"100"}],"hasMore":false,"superCount":1}`), nil
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	agg, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.bad", "ds.c"}, FileQuery{})
	if err != nil {
		t.Fatalf("частичный отказ не должен валить запрос: %v", err)
	}

	if agg.FailedSources != 1 {
		t.Errorf("ожидался 1 отказавший источник, получено %d", agg.FailedSources)
	}
	if len(agg.Element) != 2 {
		t.Errorf("ожидались записи 2 успешных источников, получено %d", len(agg.Element))
	}
	if agg.SuperCount != 2 {
		t.Errorf("superCount отказавших веток не должен учитываться, получено %d", agg.SuperCount)
	}
}

func TestFilesService_ListFilesMultiNullRecord(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, path string, _ upstream.Credentials, _ url.Values) (*upstream.Result, error) {
			if path == "/datastores/ds.a/files" {
				return jsonResult(200, `{"element":[null,{"fileName":"ok","creationTime":"100"}],"hasMore":false,"superCount":2}`), nil
			}
			return jsonResult(200, `{"element":[{"fileName":"b1","creationTime":"200"}],"hasMore":false,"superCount":1}`), nil
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	agg, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.b"}, FileQuery{})
	if err != nil {
		t.Fatalf("null внутри element не должен валить запрос: %v", err)
	}

	if len(agg.Element) != 2 {
		t.Fatalf("ожидались 2 непустые записи, получено %d", len(agg.Element))
	}
	for i, rec := range agg.Element {
		if rec == nil {
			t.Fatalf("позиция %d: nil-запись не отброшена", i)
		}
	}
	if agg.FailedSources != 0 {
		t.Errorf("null-запись не должна считаться отказом источника, получено %d", agg.FailedSources)
	}
}

func TestFilesService_UnauthorizedForgetsCachedAuth(t *testing.T) {
	cache := NewAuthCache(4, time.Minute, "files-salt")
	cache.Remember(testCreds)

	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, upstream.Credentials, url.Values) (*upstream.Result, error) {
			return jsonResult(401, `{"error":"unauthorized"}`), nil
		},
	}
	svc := NewFilesService(fetcher, cache, slog.Default())

	res, err := svc.ListFiles(context.Background(), testCreds, "ds.a", FileQuery{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	res.Body.Close()

	if cache.Contains(testCreds) {
		t.Error("401 от upstream должен инвалидировать кэшированное подтверждение")
	}
}

func TestFilesService_FanoutUnauthorizedForgetsCachedAuth(t *testing.T) {
	cache := NewAuthCache(4, time.Minute, "files-salt")
	cache.Remember(testCreds)

	fetcher := &mockFetcher{
		fetchFunc: func(context.Context, string, upstream.Credentials, url.Values) (*upstream.Result, error) {
			return jsonResult(401, `{"error":"unauthorized"}`), nil
		},
	}
	svc := NewFilesService(fetcher, cache, slog.Default())

	if _, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.b"}, FileQuery{}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cache.Contains(testCreds) {
		t.Error("401 в ветке fan-out должен инвалидировать кэш")
	}
}

func TestFilesService_ListFilesMultiUpstreamErrorStatus(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(_ context.Context, path string, _ upstream.Credentials, _ url.Values) (*upstream.Result, error) {
			if path == "/datastores/ds.b/files" {
				return jsonResult(500, `{"error":"internal"}`), nil
			}
			return jsonResult(200, `{"element":[],"hasMore":false,"superCount":0}`), nil
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	agg, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.b"}, FileQuery{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if agg.FailedSources != 1 {
		t.Errorf("ветка со статусом 5xx должна считаться отказавшей, получено %d", agg.FailedSources)
	}
}

func TestFilesService_ListFilesMultiContextCancelled(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(ctx context.Context, _ string, _ upstream.Credentials, _ url.Values) (*upstream.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := NewFilesService(fetcher, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ListFilesMulti(ctx, testCreds, []string{"ds.a"}, FileQuery{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась ошибка отменённого контекста, получено %v", err)
	}
}

func TestFilesService_ListFilesMultiUnsafeWhere(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := NewFilesService(fetcher, nil, slog.Default())

	_, err := svc.ListFilesMulti(context.Background(), testCreds, []string{"ds.a", "ds.b"}, FileQuery{
		Where: "status = 'x' UNION SELECT 1",
	})

	var wcErr *whereclause.Error
	if !errors.As(err, &wcErr) {
		t.Fatalf("ожидалась ошибка whereclause, получено %v", err)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("upstream не должен вызываться, вызовов: %d", fetcher.callCount())
	}
}

func TestFilesService_PathEscaping(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := NewFilesService(fetcher, nil, slog.Default())

	res, err := svc.ListFiles(context.Background(), testCreds, "ds/../../etc", FileQuery{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	defer res.Body.Close()

	if want := fmt.Sprintf("/datastores/%s/files", url.PathEscape("ds/../../etc")); fetcher.paths[0] != want {
		t.Errorf("идентификатор должен экранироваться в пути: %q", fetcher.paths[0])
	}
}
