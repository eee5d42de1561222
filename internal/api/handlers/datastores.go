// datastores.go — обработчики GET /api/v1/datastores и
// GET /api/v1/datastores/{id}/files.
// Ответы upstream пробрасываются через relay: список datastores —
// буферизованно, файлы одного datastore — потоково. Запрос с
// перечислением нескольких id через запятую агрегируется на gateway.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/dsgateway/internal/api/errors"
	"github.com/bigkaa/dsgateway/internal/api/middleware"
	"github.com/bigkaa/dsgateway/internal/service"
	"github.com/bigkaa/dsgateway/internal/upstream"
)

// HandleListDatastores — GET /api/v1/datastores.
func (h *APIHandler) HandleListDatastores(w http.ResponseWriter, r *http.Request) {
	creds, ok := middleware.CredentialsFromContext(r.Context())
	if !ok {
		apierrors.InvalidToken(w, "Отсутствуют учётные данные сессии")
		return
	}

	res, err := h.files.ListDatastores(r.Context(), creds)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Buffered закрывает res.Body сам
	if err := h.relay.Buffered(w, res); err != nil {
		h.writeServiceError(w, err)
	}
}

// HandleListFiles — GET /api/v1/datastores/{id}/files.
// {id} может быть списком идентификаторов через запятую — тогда
// gateway выполняет fan-out и агрегирует результат сам.
func (h *APIHandler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	creds, ok := middleware.CredentialsFromContext(r.Context())
	if !ok {
		apierrors.InvalidToken(w, "Отсутствуют учётные данные сессии")
		return
	}

	query, err := parseFileQuery(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	ids := splitDatastoreIDs(chi.URLParam(r, "id"))
	if len(ids) == 0 {
		apierrors.ValidationError(w, "Идентификатор datastore не задан")
		return
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		h.logger.Debug("запрос файловых записей",
			slog.String("username", claims.Username),
			slog.Int("datastores", len(ids)),
		)
	}

	if len(ids) == 1 {
		h.streamSingle(w, r, creds, ids[0], query)
		return
	}

	agg, err := h.files.ListFilesMulti(r.Context(), creds, ids, query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// streamSingle пробрасывает файлы одного datastore потоково.
func (h *APIHandler) streamSingle(w http.ResponseWriter, r *http.Request, creds upstream.Credentials, id string, query service.FileQuery) {
	res, err := h.files.ListFiles(r.Context(), creds, id, query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Stream закрывает res.Body сам; обрыв посреди передачи уже
	// залогирован relay-ем, заголовки к этому моменту отправлены
	_ = h.relay.Stream(w, res)
}

// parseFileQuery разбирает и валидирует query-параметры запроса файлов.
// where дальше проверяет whereclause-guard в сервисном слое.
func parseFileQuery(r *http.Request) (service.FileQuery, error) {
	q := r.URL.Query()
	fq := service.FileQuery{
		Where:  q.Get("where"),
		SortBy: q.Get("sortBy"),
	}

	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"fromRows", &fq.FromRows},
		{"rows", &fq.Rows},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return service.FileQuery{}, &queryParamError{name: p.name, value: raw}
		}
		*p.dst = raw
	}

	return fq, nil
}

// queryParamError — некорректное значение числового query-параметра.
type queryParamError struct {
	name  string
	value string
}

func (e *queryParamError) Error() string {
	return "параметр " + e.name + " должен быть неотрицательным целым, получено " + strconv.Quote(e.value)
}

// splitDatastoreIDs разбирает сегмент {id}: список через запятую,
// пустые элементы и пробелы отбрасываются.
func splitDatastoreIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
