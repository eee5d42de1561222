// files.go — сервис списков datastores и файловых записей.
// Одиночный datastore проксируется потоково как есть; запрос по
// нескольким datastores (id через запятую) разворачивается в
// конкурентный fan-out с агрегацией и сортировкой на стороне gateway.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/dsgateway/internal/domain/model"
	"github.com/bigkaa/dsgateway/internal/upstream"
	"github.com/bigkaa/dsgateway/internal/whereclause"
)

// maxFanoutBody — предел размера тела одной ветки fan-out.
// Потоковый путь (одиночный datastore) лимита не имеет.
const maxFanoutBody = 32 << 20

// Prometheus-метрики файловых запросов.
var (
	filesRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsg_files_requests_total",
		Help: "Общее количество запросов файловых записей.",
	}, []string{"mode"})
	fanoutFailedSourcesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsg_fanout_failed_sources_total",
		Help: "Общее количество веток fan-out, завершившихся ошибкой.",
	})
	fanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dsg_fanout_duration_seconds",
		Help:    "Длительность агрегирующих fan-out запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// Fetcher выполняет GET-запросы к upstream от имени пользователя.
type Fetcher interface {
	Fetch(ctx context.Context, path string, creds upstream.Credentials, query url.Values) (*upstream.Result, error)
}

// FileQuery — параметры запроса файловых записей, пробрасываемые upstream.
type FileQuery struct {
	// Where — фильтр (проходит через whereclause.Sanitize)
	Where string
	// SortBy — поле сортировки upstream
	SortBy string
	// FromRows — смещение окна пагинации
	FromRows string
	// Rows — размер окна пагинации
	Rows string
}

// AggregatedFiles — результат fan-out по нескольким datastores.
// Форма совпадает с ответом upstream, плюс счётчик отказавших веток.
type AggregatedFiles struct {
	// Element — объединённые записи, отсортированные по убыванию creationTime
	Element []model.FileRecord `json:"element"`
	// HasMore — true, если хотя бы один источник сообщил о продолжении
	HasMore bool `json:"hasMore"`
	// SuperCount — сумма superCount успешных источников
	SuperCount int `json:"superCount"`
	// FailedSources — количество источников, ответивших ошибкой
	FailedSources int `json:"failedSources"`
}

// FilesService — получение списков datastores и файловых записей.
type FilesService struct {
	fetcher Fetcher
	cache   *AuthCache
	logger  *slog.Logger
}

// NewFilesService создаёт файловый сервис.
// cache может быть nil — тогда инвалидация по 401 не выполняется.
func NewFilesService(fetcher Fetcher, cache *AuthCache, logger *slog.Logger) *FilesService {
	return &FilesService{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger.With(slog.String("component", "files_service")),
	}
}

// forgetOnUnauthorized сбрасывает кэшированное подтверждение учётных
// данных. 401 на запрос живой сессии означает, что пароль сменился
// на стороне upstream и кэш устарел: следующий login пойдёт в /auth.
func (s *FilesService) forgetOnUnauthorized(statusCode int, creds upstream.Credentials) {
	if statusCode == http.StatusUnauthorized && s.cache != nil {
		s.cache.Forget(creds)
	}
}

// ListDatastores возвращает сырой ответ upstream GET /datastores
// для проброса клиенту. Body закрывает вызывающий код.
func (s *FilesService) ListDatastores(ctx context.Context, creds upstream.Credentials) (*upstream.Result, error) {
	res, err := s.fetcher.Fetch(ctx, "/datastores", creds, nil)
	if err != nil {
		return nil, fmt.Errorf("список datastores: %w", err)
	}
	s.forgetOnUnauthorized(res.StatusCode, creds)
	return res, nil
}

// ListFiles возвращает сырой ответ upstream по файлам одного datastore.
// Where-фильтр проходит через guard ДО обращения к upstream:
// небезопасное выражение не покидает gateway. Body закрывает вызывающий код.
func (s *FilesService) ListFiles(ctx context.Context, creds upstream.Credentials, datastoreID string, q FileQuery) (*upstream.Result, error) {
	query, err := buildFileQuery(q)
	if err != nil {
		return nil, err
	}
	filesRequestsTotal.WithLabelValues("single").Inc()

	res, err := s.fetcher.Fetch(ctx, "/datastores/"+url.PathEscape(datastoreID)+"/files", creds, query)
	if err != nil {
		return nil, fmt.Errorf("файлы datastore %s: %w", datastoreID, err)
	}
	s.forgetOnUnauthorized(res.StatusCode, creds)
	return res, nil
}

// ListFilesMulti выполняет конкурентный fan-out по нескольким datastores.
// Каждая запись помечается источником (datastoreId), ветки с ошибкой
// дают пустой вклад и увеличивают FailedSources: частичный отказ
// источников не валит весь запрос. Порядок результата — по убыванию
// creationTime независимо от порядка завершения веток.
func (s *FilesService) ListFilesMulti(ctx context.Context, creds upstream.Credentials, datastoreIDs []string, q FileQuery) (*AggregatedFiles, error) {
	query, err := buildFileQuery(q)
	if err != nil {
		return nil, err
	}
	filesRequestsTotal.WithLabelValues("fanout").Inc()

	start := time.Now()
	defer func() { fanoutDuration.Observe(time.Since(start).Seconds()) }()

	agg := &AggregatedFiles{Element: []model.FileRecord{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range datastoreIDs {
		id := id
		g.Go(func() error {
			list, err := s.fetchBranch(gctx, creds, id, query)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				agg.FailedSources++
				fanoutFailedSourcesTotal.Inc()
				s.logger.Warn("ветка fan-out завершилась ошибкой",
					slog.String("datastore_id", id),
					slog.String("error", err.Error()))
				return nil
			}
			for _, rec := range list.Element {
				// JSON null внутри element декодируется в nil map —
				// такую запись нечем помечать, отбрасываем
				if rec == nil {
					continue
				}
				rec.TagDatastore(id)
				agg.Element = append(agg.Element, rec)
			}
			agg.SuperCount += list.SuperCount
			agg.HasMore = agg.HasMore || list.HasMore
			return nil
		})
	}
	// Ветки ошибок не возвращают, Wait нужен только как барьер
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(agg.Element, func(i, j int) bool {
		return agg.Element[i].CreationTimeMillis() > agg.Element[j].CreationTimeMillis()
	})
	return agg, nil
}

// fetchBranch получает и декодирует файлы одного datastore внутри fan-out.
func (s *FilesService) fetchBranch(ctx context.Context, creds upstream.Credentials, datastoreID string, query url.Values) (*model.FileList, error) {
	res, err := s.fetcher.Fetch(ctx, "/datastores/"+url.PathEscape(datastoreID)+"/files", creds, query)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		s.forgetOnUnauthorized(res.StatusCode, creds)
		return nil, fmt.Errorf("upstream вернул статус %d", res.StatusCode)
	}

	var list model.FileList
	if err := json.NewDecoder(io.LimitReader(res.Body, maxFanoutBody)).Decode(&list); err != nil {
		return nil, fmt.Errorf("декодирование ответа: %w", err)
	}
	return &list, nil
}

// buildFileQuery валидирует where-фильтр и собирает query-параметры upstream.
// Пустые параметры не пробрасываются.
func buildFileQuery(q FileQuery) (url.Values, error) {
	query := url.Values{}

	if q.Where != "" {
		sanitized, err := whereclause.Sanitize(q.Where)
		if err != nil {
			return nil, err
		}
		query.Set("where", sanitized)
	}
	if q.SortBy != "" {
		query.Set("sortBy", q.SortBy)
	}
	if q.FromRows != "" {
		query.Set("fromRows", q.FromRows)
	}
	if q.Rows != "" {
		query.Set("rows", q.Rows)
	}
	return query, nil
}
