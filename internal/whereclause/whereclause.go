// Пакет whereclause — проверка пользовательских where-выражений перед
// пробросом в query string upstream API.
//
// Выражение разбирается в AST по явной грамматике и сериализуется обратно:
//
//	expr       := term { (AND|OR) term }
//	term       := '(' expr ')' | comparison
//	comparison := field op value
//	            | field [NOT] LIKE string
//	            | field IN '(' value {',' value} ')'
//	            | field BETWEEN value AND value
//	op         := = | != | <> | < | > | <= | >=
//
// Имена полей проверяются по allow-list, запрещённые SQL-ключевые слова
// отклоняются на этапе лексера, одинарные кавычки внутри строковых значений
// экранируются удвоением при сериализации. Upstream интерпретирует результат
// как предикат запроса — gateway сам выражение не исполняет.
package whereclause

import (
	"fmt"
	"strings"
	"unicode"
)

// allowedFields — закрытый список имён полей, допустимых в where-выражении.
var allowedFields = map[string]bool{
	"creationTime":      true,
	"processingEndDate": true,
	"status":            true,
	"fileName":          true,
	"fileType":          true,
	"fileSize":          true,
	"clientName":        true,
	"clientConnection":  true,
	"direction":         true,
	"datastoreId":       true,
}

// forbiddenKeywords — ключевые слова, которым нет места в where-выражении.
// Проверка идёт по верхнему регистру на этапе лексера.
var forbiddenKeywords = map[string]bool{
	"DROP":     true,
	"DELETE":   true,
	"UPDATE":   true,
	"INSERT":   true,
	"UNION":    true,
	"EXEC":     true,
	"SELECT":   true,
	"TRUNCATE": true,
	"ALTER":    true,
	"CREATE":   true,
}

// Error — отказ проверки с указанием нарушенного правила.
type Error struct {
	// Rule — краткое имя нарушенного правила
	Rule string
	// Detail — человекочитаемое описание
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("небезопасное where-выражение (%s): %s", e.Rule, e.Detail)
}

func errRule(rule, format string, args ...any) error {
	return &Error{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// Sanitize разбирает where-выражение и возвращает его безопасную
// каноническую сериализацию. Пустая строка проходит без изменений.
// Операция идемпотентна: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "", nil
	}

	tokens, err := lex(trimmed)
	if err != nil {
		return "", err
	}

	p := &parser{tokens: tokens}
	ast, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if !p.eof() {
		return "", errRule("trailing-input", "лишние токены после конца выражения: %q", p.peek().text)
	}

	return ast.serialize(), nil
}

// --- Лексер ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	// text — значение токена; для tokString — уже без кавычек и без удвоения
	text string
}

// lex разбивает выражение на токены. Запрещённые ключевые слова и символ ';'
// отклоняются здесь, до разбора грамматики.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == ';':
			return nil, errRule("forbidden-keyword", "символ ';' запрещён")

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++

		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++

		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++

		case r == '\'':
			str, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: str})
			i = next

		case r == '=' || r == '!' || r == '<' || r == '>':
			op, next, err := lexOperator(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokOp, text: op})
			i = next

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i])})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			if forbiddenKeywords[strings.ToUpper(word)] {
				return nil, errRule("forbidden-keyword", "ключевое слово %q запрещено", strings.ToUpper(word))
			}
			tokens = append(tokens, token{kind: tokIdent, text: word})

		default:
			return nil, errRule("invalid-character", "недопустимый символ %q", string(r))
		}
	}

	if len(tokens) == 0 {
		return nil, errRule("empty-expression", "выражение не содержит токенов")
	}

	return tokens, nil
}

// lexString читает строковый литерал в одинарных кавычках начиная с runes[i].
// Удвоенная кавычка ” внутри литерала — экранированная одинарная кавычка.
// Возвращает декодированное значение и позицию за закрывающей кавычкой.
func lexString(runes []rune, i int) (string, int, error) {
	var sb strings.Builder
	i++ // открывающая кавычка

	for i < len(runes) {
		if runes[i] == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				sb.WriteRune('\'')
				i += 2
				continue
			}
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}

	return "", 0, errRule("unterminated-string", "строковый литерал не закрыт")
}

// lexOperator читает оператор сравнения начиная с runes[i].
func lexOperator(runes []rune, i int) (string, int, error) {
	two := ""
	if i+1 < len(runes) {
		two = string(runes[i : i+2])
	}
	switch two {
	case "!=", "<>", "<=", ">=":
		return two, i + 2, nil
	}
	switch runes[i] {
	case '=', '<', '>':
		return string(runes[i]), i + 1, nil
	}
	return "", 0, errRule("invalid-operator", "недопустимый оператор %q", string(runes[i]))
}

// --- AST ---

type node interface {
	serialize() string
}

// binaryExpr — цепочка термов, соединённых AND/OR.
type binaryExpr struct {
	terms []node
	// joins[i] — связка между terms[i] и terms[i+1] ("AND" или "OR")
	joins []string
}

func (b *binaryExpr) serialize() string {
	var sb strings.Builder
	for i, t := range b.terms {
		if i > 0 {
			sb.WriteString(" " + b.joins[i-1] + " ")
		}
		sb.WriteString(t.serialize())
	}
	return sb.String()
}

// groupExpr — выражение в скобках.
type groupExpr struct {
	inner node
}

func (g *groupExpr) serialize() string {
	return "(" + g.inner.serialize() + ")"
}

// value — строковое или числовое значение сравнения.
type value struct {
	text     string
	isString bool
}

func (v value) serialize() string {
	if v.isString {
		// Экранирование: каждая одинарная кавычка удваивается
		return "'" + strings.ReplaceAll(v.text, "'", "''") + "'"
	}
	return v.text
}

// comparison — одно сравнение field op value (включая LIKE/IN/BETWEEN).
type comparison struct {
	field  string
	op     string // "=", "!=", "<>", "<", ">", "<=", ">=", "LIKE", "NOT LIKE", "IN", "BETWEEN"
	values []value
}

func (c *comparison) serialize() string {
	switch c.op {
	case "IN":
		parts := make([]string, len(c.values))
		for i, v := range c.values {
			parts[i] = v.serialize()
		}
		return c.field + " IN (" + strings.Join(parts, ", ") + ")"
	case "BETWEEN":
		return c.field + " BETWEEN " + c.values[0].serialize() + " AND " + c.values[1].serialize()
	default:
		return c.field + " " + c.op + " " + c.values[0].serialize()
	}
}

// --- Парсер (рекурсивный спуск) ---

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) peek() token {
	if p.eof() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

// isKeyword проверяет, что токен — ident с данным ключевым словом (без учёта регистра).
func isKeyword(t token, kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

// parseExpr := term { (AND|OR) term }
func (p *parser) parseExpr() (node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	expr := &binaryExpr{terms: []node{first}}
	for !p.eof() {
		t := p.peek()
		var join string
		switch {
		case isKeyword(t, "AND"):
			join = "AND"
		case isKeyword(t, "OR"):
			join = "OR"
		default:
			// не связка — конец выражения на этом уровне
			if len(expr.terms) == 1 {
				return first, nil
			}
			return expr, nil
		}
		p.next()

		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		expr.terms = append(expr.terms, term)
		expr.joins = append(expr.joins, join)
	}

	if len(expr.terms) == 1 {
		return first, nil
	}
	return expr, nil
}

// parseTerm := '(' expr ')' | comparison
func (p *parser) parseTerm() (node, error) {
	if p.eof() {
		return nil, errRule("incomplete-expression", "ожидался терм, но выражение закончилось")
	}

	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.peek().kind != tokRParen {
			return nil, errRule("unbalanced-parentheses", "не закрыта скобка")
		}
		p.next()
		return &groupExpr{inner: inner}, nil
	}

	return p.parseComparison()
}

// parseComparison := field (op value | [NOT] LIKE string | IN (...) | BETWEEN v AND v)
func (p *parser) parseComparison() (node, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, errRule("expected-field", "ожидалось имя поля, получено %q", t.text)
	}
	if !allowedFields[t.text] {
		return nil, errRule("unknown-field", "поле %q не входит в список допустимых", t.text)
	}
	field := t.text

	if p.eof() {
		return nil, errRule("incomplete-expression", "после поля %q ожидался оператор", field)
	}

	op := p.next()
	switch {
	case op.kind == tokOp:
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &comparison{field: field, op: op.text, values: []value{v}}, nil

	case isKeyword(op, "LIKE"):
		return p.parseLike(field, "LIKE")

	case isKeyword(op, "NOT"):
		if p.eof() || !isKeyword(p.peek(), "LIKE") {
			return nil, errRule("invalid-operator", "после NOT ожидалось LIKE")
		}
		p.next()
		return p.parseLike(field, "NOT LIKE")

	case isKeyword(op, "IN"):
		return p.parseIn(field)

	case isKeyword(op, "BETWEEN"):
		return p.parseBetween(field)

	default:
		return nil, errRule("invalid-operator", "недопустимый оператор %q после поля %q", op.text, field)
	}
}

// parseLike: шаблон LIKE обязан быть строковым литералом.
func (p *parser) parseLike(field, op string) (node, error) {
	if p.eof() || p.peek().kind != tokString {
		return nil, errRule("invalid-value", "%s требует строковый литерал в кавычках", op)
	}
	t := p.next()
	return &comparison{field: field, op: op, values: []value{{text: t.text, isString: true}}}, nil
}

// parseIn: IN '(' value {',' value} ')'.
func (p *parser) parseIn(field string) (node, error) {
	if p.eof() || p.peek().kind != tokLParen {
		return nil, errRule("invalid-value", "после IN ожидалась открывающая скобка")
	}
	p.next()

	var values []value
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)

		if p.eof() {
			return nil, errRule("unbalanced-parentheses", "список IN не закрыт")
		}
		t := p.next()
		if t.kind == tokRParen {
			break
		}
		if t.kind != tokComma {
			return nil, errRule("invalid-value", "в списке IN ожидалась ',' или ')', получено %q", t.text)
		}
	}

	return &comparison{field: field, op: "IN", values: values}, nil
}

// parseBetween: BETWEEN value AND value.
func (p *parser) parseBetween(field string) (node, error) {
	low, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if p.eof() || !isKeyword(p.peek(), "AND") {
		return nil, errRule("invalid-value", "в BETWEEN ожидалось AND между границами")
	}
	p.next()
	high, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &comparison{field: field, op: "BETWEEN", values: []value{low, high}}, nil
}

// parseValue: строковый литерал или число. Барворды (значения без кавычек)
// не допускаются — это закрывает подстановку произвольных идентификаторов.
func (p *parser) parseValue() (value, error) {
	if p.eof() {
		return value{}, errRule("incomplete-expression", "ожидалось значение, но выражение закончилось")
	}
	t := p.next()
	switch t.kind {
	case tokString:
		return value{text: t.text, isString: true}, nil
	case tokNumber:
		return value{text: t.text, isString: false}, nil
	default:
		return value{}, errRule("invalid-value", "значением может быть строка в кавычках или число, получено %q", t.text)
	}
}
