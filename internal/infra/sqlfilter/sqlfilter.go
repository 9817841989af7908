// Package sqlfilter は検索フィルタを SQL の WHERE 句に変換する
package sqlfilter

import (
	"fmt"
	"strings"

	"github.com/jinford/doc-rag/internal/core/search"
)

// Dialect はデータベースごとの式の書き方
type Dialect interface {
	// FieldExpr はメタデータのフィールドを取り出す式を返す
	FieldExpr(field search.Field) string
	// Placeholder は n 番目（1始まり）のバインド変数を返す
	Placeholder(n int) string
}

// SQLite は JSON 文字列の metadata 列に対する方言
var SQLite Dialect = sqliteDialect{}

// Postgres は jsonb の metadata 列に対する方言
var Postgres Dialect = postgresDialect{}

type sqliteDialect struct{}

func (sqliteDialect) FieldExpr(field search.Field) string {
	return fmt.Sprintf("json_extract(metadata, '$.%s')", field)
}

func (sqliteDialect) Placeholder(int) string { return "?" }

type postgresDialect struct{}

func (postgresDialect) FieldExpr(field search.Field) string {
	if kind, _ := field.Kind(); kind == search.KindInt {
		return fmt.Sprintf("(metadata->>'%s')::int", field)
	}
	return fmt.Sprintf("metadata->>'%s'", field)
}

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Compile はフィルタを WHERE 句の断片とバインド値に変換する
// argOffset は既に使用済みのバインド変数の数
func Compile(f search.Filter, d Dialect, argOffset int) (string, []any, error) {
	c := &compiler{dialect: d, offset: argOffset}
	clause, err := c.compile(f)
	if err != nil {
		return "", nil, err
	}
	return clause, c.args, nil
}

type compiler struct {
	dialect Dialect
	offset  int
	args    []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(c.offset + len(c.args))
}

func (c *compiler) field(field search.Field) (string, error) {
	if _, ok := field.Kind(); !ok {
		return "", fmt.Errorf("%w: unknown field %q", search.ErrInvalidFilter, field)
	}
	return c.dialect.FieldExpr(field), nil
}

func (c *compiler) compile(f search.Filter) (string, error) {
	switch v := f.(type) {
	case search.Equals:
		expr, err := c.field(v.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", expr, c.bind(v.Value)), nil

	case search.OneOf:
		expr, err := c.field(v.Field)
		if err != nil {
			return "", err
		}
		if len(v.Values) == 0 {
			return "", fmt.Errorf("%w: %s: empty value list", search.ErrInvalidFilter, v.Field)
		}
		placeholders := make([]string, len(v.Values))
		for i, value := range v.Values {
			placeholders[i] = c.bind(value)
		}
		return fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")), nil

	case search.Range:
		expr, err := c.field(v.Field)
		if err != nil {
			return "", err
		}
		var parts []string
		if n, ok := v.Gte.Get(); ok {
			parts = append(parts, fmt.Sprintf("%s >= %s", expr, c.bind(n)))
		}
		if n, ok := v.Lte.Get(); ok {
			parts = append(parts, fmt.Sprintf("%s <= %s", expr, c.bind(n)))
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("%w: %s: range needs at least one bound", search.ErrInvalidFilter, v.Field)
		}
		return strings.Join(parts, " AND "), nil

	case search.And:
		if len(v.Clauses) == 0 {
			return "", fmt.Errorf("%w: and: no clauses", search.ErrInvalidFilter)
		}
		parts := make([]string, 0, len(v.Clauses))
		for _, clause := range v.Clauses {
			sql, err := c.compile(clause)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+sql+")")
		}
		return strings.Join(parts, " AND "), nil

	default:
		return "", fmt.Errorf("%w: unsupported filter %T", search.ErrInvalidFilter, f)
	}
}
