package model

import (
	"encoding/json"
	"testing"
)

func TestFileRecord_CreationTimeMillis(t *testing.T) {
	tests := []struct {
		name string
		rec  FileRecord
		want int64
	}{
		{"строка epoch-millis", FileRecord{"creationTime": "1589764855207"}, 1589764855207},
		{"число из JSON (float64)", FileRecord{"creationTime": float64(1589764855207)}, 1589764855207},
		{"int64", FileRecord{"creationTime": int64(42)}, 42},
		{"некорректная строка", FileRecord{"creationTime": "не число"}, 0},
		{"поле отсутствует", FileRecord{"fileName": "a.txt"}, 0},
		{"неожиданный тип", FileRecord{"creationTime": true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.CreationTimeMillis(); got != tt.want {
				t.Errorf("ожидалось %d, получено %d", tt.want, got)
			}
		})
	}
}

func TestFileRecord_TagDatastore(t *testing.T) {
	rec := FileRecord{"fileName": "a.txt"}
	rec.TagDatastore("com.example.A")

	if rec["datastoreId"] != "com.example.A" {
		t.Errorf("запись должна быть помечена источником, получено %v", rec["datastoreId"])
	}
}

func TestFileList_DecodeUpstreamShape(t *testing.T) {
	// Реальная форма ответа upstream: element-обёртка, creationTime строкой
	raw := `{
		"element": [
			{"fileName": "doc.pdf", "creationTime": "1589764855207", "fileSize": 1024},
			{"fileName": "data.csv", "creationTime": "1589764855208"}
		],
		"hasMore": true,
		"superCount": 57
	}`

	var list FileList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}

	if len(list.Element) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(list.Element))
	}
	if !list.HasMore || list.SuperCount != 57 {
		t.Errorf("пагинация декодирована неверно: hasMore=%v, superCount=%d", list.HasMore, list.SuperCount)
	}
	if list.Element[0].CreationTimeMillis() != 1589764855207 {
		t.Error("creationTime первой записи декодирован неверно")
	}
}

func TestDatastore_DecodeUpstreamShape(t *testing.T) {
	raw := `{"element": [
		{"id": "com.example.FooAction", "creationTime": "1589764855207", "className": "ru.example.Foo"},
		{"id": "com.example.BarAction"}
	]}`

	var resp struct {
		Element []Datastore `json:"element"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}

	if len(resp.Element) != 2 {
		t.Fatalf("ожидалось 2 datastore, получено %d", len(resp.Element))
	}
	if resp.Element[0].ID != "com.example.FooAction" || resp.Element[0].ClassName != "ru.example.Foo" {
		t.Errorf("первый datastore декодирован неверно: %+v", resp.Element[0])
	}
	if resp.Element[1].CreationTime != "" {
		t.Error("отсутствующие поля должны оставаться пустыми")
	}
}
