package whereclause

import (
	"errors"
	"strings"
	"testing"
)

// TestSanitize_SimpleComparison проверяет базовое сравнение поле-оператор-значение.
func TestSanitize_SimpleComparison(t *testing.T) {
	got, err := Sanitize("status = 'SUCCESS'")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "status = 'SUCCESS'" {
		t.Errorf("Sanitize = %q, ожидалось %q", got, "status = 'SUCCESS'")
	}
}

// TestSanitize_NormalizesWhitespace проверяет каноническую сериализацию.
func TestSanitize_NormalizesWhitespace(t *testing.T) {
	got, err := Sanitize("status='SUCCESS'   AND    fileType!='xml'")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	want := "status = 'SUCCESS' AND fileType != 'xml'"
	if got != want {
		t.Errorf("Sanitize = %q, ожидалось %q", got, want)
	}
}

// TestSanitize_ForbiddenKeyword проверяет отказ на запрещённые ключевые слова.
func TestSanitize_ForbiddenKeyword(t *testing.T) {
	cases := []string{
		"status = 'x'; DROP TABLE files",
		"status = 'x' AND DROP",
		"fileName LIKE 'a' OR union = 'b'",
		"delete = '1'",
	}
	for _, expr := range cases {
		_, err := Sanitize(expr)
		if err == nil {
			t.Errorf("Sanitize(%q): ожидалась ошибка, получен успех", expr)
			continue
		}
		var wcErr *Error
		if !errors.As(err, &wcErr) {
			t.Errorf("Sanitize(%q): ожидалась *Error, получено %T", expr, err)
		}
	}
}

// TestSanitize_UnknownField проверяет allow-list имён полей.
func TestSanitize_UnknownField(t *testing.T) {
	_, err := Sanitize("password = 'x'")
	if err == nil {
		t.Fatal("ожидалась ошибка: поле не из allow-list")
	}
	var wcErr *Error
	if !errors.As(err, &wcErr) {
		t.Fatalf("ожидалась *Error, получено %T", err)
	}
	if wcErr.Rule != "unknown-field" {
		t.Errorf("Rule = %q, ожидалось unknown-field", wcErr.Rule)
	}
	if !strings.Contains(wcErr.Detail, "password") {
		t.Errorf("сообщение должно называть поле: %q", wcErr.Detail)
	}
}

// TestSanitize_QuoteEscaping проверяет удвоение одинарных кавычек.
func TestSanitize_QuoteEscaping(t *testing.T) {
	got, err := Sanitize("clientName = 'O''Brien'")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "clientName = 'O''Brien'" {
		t.Errorf("Sanitize = %q, кавычка должна остаться удвоенной", got)
	}
}

// TestSanitize_Idempotent проверяет Sanitize(Sanitize(x)) == Sanitize(x)
// для выражений, прошедших первую проверку.
func TestSanitize_Idempotent(t *testing.T) {
	exprs := []string{
		"status = 'SUCCESS'",
		"clientName = 'O''Brien' AND status != 'FAILED'",
		"(status = 'OK' OR status = 'WARN') AND fileSize > 1024",
		"fileType IN ('xml', 'edi', 'csv')",
		"creationTime BETWEEN 1589764855207 AND 1637759242152",
		"fileName LIKE '%invoice%'",
		"fileName NOT LIKE '%test%'",
	}
	for _, expr := range exprs {
		once, err := Sanitize(expr)
		if err != nil {
			t.Errorf("Sanitize(%q): неожиданная ошибка: %v", expr, err)
			continue
		}
		twice, err := Sanitize(once)
		if err != nil {
			t.Errorf("Sanitize(Sanitize(%q)): неожиданная ошибка: %v", expr, err)
			continue
		}
		if once != twice {
			t.Errorf("идемпотентность нарушена для %q: %q != %q", expr, once, twice)
		}
	}
}

// TestSanitize_MultiWordOperators проверяет конструкции, ломавшие
// позиционный токенизатор: NOT LIKE, BETWEEN, строки с пробелами.
func TestSanitize_MultiWordOperators(t *testing.T) {
	cases := map[string]string{
		"fileName NOT LIKE '%tmp file%'":             "fileName NOT LIKE '%tmp file%'",
		"creationTime between 1 AND 2":               "creationTime BETWEEN 1 AND 2",
		"status in ('A', 'B')":                       "status IN ('A', 'B')",
		"clientName = 'two words here'":              "clientName = 'two words here'",
		"(direction = 'IN') and (direction = 'OUT')": "(direction = 'IN') AND (direction = 'OUT')",
	}
	for expr, want := range cases {
		got, err := Sanitize(expr)
		if err != nil {
			t.Errorf("Sanitize(%q): неожиданная ошибка: %v", expr, err)
			continue
		}
		if got != want {
			t.Errorf("Sanitize(%q) = %q, ожидалось %q", expr, got, want)
		}
	}
}

// TestSanitize_Rejections проверяет отказы на структурные нарушения.
func TestSanitize_Rejections(t *testing.T) {
	cases := map[string]string{
		"status = bare":             "invalid-value",
		"status = 'unclosed":        "unterminated-string",
		"(status = 'x'":             "unbalanced-parentheses",
		"status == 'x'":             "invalid-value", // "==" лексится как "=" + "=", второй "=" попадает на место значения
		"status":                    "incomplete-expression",
		"status LIKE 42":            "invalid-value",
		"status BETWEEN 'a' OR 'b'": "invalid-value",
		"status = 'x' 'y'":          "trailing-input",
		"fileSize > 10 AND":         "incomplete-expression",
		"status = 'x' AND $$ = 'y'": "invalid-character",
		"status IN ('a' 'b')":       "invalid-value",
	}
	for expr, wantRule := range cases {
		_, err := Sanitize(expr)
		if err == nil {
			t.Errorf("Sanitize(%q): ожидалась ошибка %s, получен успех", expr, wantRule)
			continue
		}
		var wcErr *Error
		if !errors.As(err, &wcErr) {
			t.Errorf("Sanitize(%q): ожидалась *Error, получено %T", expr, err)
			continue
		}
		if wcErr.Rule != wantRule {
			t.Errorf("Sanitize(%q): Rule = %q, ожидалось %q", expr, wcErr.Rule, wantRule)
		}
	}
}

// TestSanitize_Empty проверяет, что пустое выражение проходит без изменений.
func TestSanitize_Empty(t *testing.T) {
	for _, expr := range []string{"", "   "} {
		got, err := Sanitize(expr)
		if err != nil {
			t.Errorf("Sanitize(%q): неожиданная ошибка: %v", expr, err)
		}
		if got != "" {
			t.Errorf("Sanitize(%q) = %q, ожидалась пустая строка", expr, got)
		}
	}
}
