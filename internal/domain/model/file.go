// Пакет model — доменные модели Datastore Gateway.
// Схема файловых записей upstream не фиксирована: набор колонок
// определяется самими данными, поэтому FileRecord — плоская map.
package model

import "strconv"

// FieldDatastoreID — ключ, которым gateway помечает источник записи
// при fan-out запросе к нескольким datastores.
const FieldDatastoreID = "datastoreId"

// FieldCreationTime — ключ временной метки создания записи.
// Upstream отдаёт epoch-миллисекунды строкой (например "1589764855207").
const FieldCreationTime = "creationTime"

// FileRecord — одна файловая запись upstream API.
// Значения гетерогенны (строки, числа, вложенные объекты) — gateway
// не интерпретирует их, только помечает источник и сортирует.
type FileRecord map[string]any

// CreationTimeMillis возвращает creationTime записи в миллисекундах.
// Поддерживает строковое и числовое представление. При отсутствии
// или некорректном значении возвращает 0 — такие записи уходят
// в конец списка при сортировке по убыванию.
func (r FileRecord) CreationTimeMillis() int64 {
	switch v := r[FieldCreationTime].(type) {
	case string:
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return ms
	case float64:
		// encoding/json декодирует числа JSON в float64
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// TagDatastore помечает запись идентификатором datastore-источника.
func (r FileRecord) TagDatastore(datastoreID string) {
	r[FieldDatastoreID] = datastoreID
}

// Datastore — элемент списка GET /datastores upstream API.
// Идентификатор — опаковая dotted-строка (com.example.FooAction).
type Datastore struct {
	// ID — идентификатор datastore
	ID string `json:"id"`
	// CreationTime — время создания (epoch-миллисекунды строкой)
	CreationTime string `json:"creationTime,omitempty"`
	// ClassName — класс реализации на стороне upstream
	ClassName string `json:"className,omitempty"`
}

// FileList — ответ upstream на запрос файлов одного datastore.
// Upstream оборачивает записи в {"element": [...]}.
type FileList struct {
	// Element — файловые записи
	Element []FileRecord `json:"element"`
	// HasMore — есть ли ещё записи за пределами окна пагинации
	HasMore bool `json:"hasMore"`
	// SuperCount — общее количество совпадений на стороне upstream
	SuperCount int `json:"superCount"`
}
