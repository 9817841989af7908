package search

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/mo"
)

// ErrInvalidFilter はフィルタ式が不正な場合のエラー
var ErrInvalidFilter = errors.New("invalid filter")

// Field はフィルタ可能なメタデータのキー
type Field string

const (
	FieldSource   Field = "source"
	FieldPage     Field = "page"
	FieldFilePath Field = "file_path"
	FieldChunkID  Field = "chunk_id"
)

// FieldKind はメタデータ値の型
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
)

var fieldKinds = map[Field]FieldKind{
	FieldSource:   KindString,
	FieldPage:     KindInt,
	FieldFilePath: KindString,
	FieldChunkID:  KindString,
}

// Kind はフィールドの値の型を返します。未知のフィールドは false
func (f Field) Kind() (FieldKind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// Filter はメタデータに対する検索条件
// Equals, OneOf, Range, And のいずれか
type Filter interface {
	isFilter()
}

// Equals はフィールドが値と一致する条件
type Equals struct {
	Field Field
	Value any // string または int
}

// OneOf はフィールドが値のいずれかと一致する条件
type OneOf struct {
	Field  Field
	Values []any
}

// Range は整数フィールドの範囲条件（両端を含む）
type Range struct {
	Field Field
	Gte   mo.Option[int]
	Lte   mo.Option[int]
}

// And はすべての条件を満たす条件
type And struct {
	Clauses []Filter
}

func (Equals) isFilter() {}
func (OneOf) isFilter()  {}
func (Range) isFilter()  {}
func (And) isFilter()    {}

// NewEquals は検証済みの Equals を作成します
func NewEquals(field Field, value any) (Filter, error) {
	v, err := checkValue(field, value)
	if err != nil {
		return nil, err
	}
	return Equals{Field: field, Value: v}, nil
}

// NewOneOf は検証済みの OneOf を作成します
func NewOneOf(field Field, values ...any) (Filter, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s: empty value list", ErrInvalidFilter, field)
	}
	checked := make([]any, 0, len(values))
	for _, value := range values {
		v, err := checkValue(field, value)
		if err != nil {
			return nil, err
		}
		checked = append(checked, v)
	}
	return OneOf{Field: field, Values: checked}, nil
}

// NewRange は検証済みの Range を作成します
func NewRange(field Field, gte, lte mo.Option[int]) (Filter, error) {
	kind, ok := field.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
	}
	if kind != KindInt {
		return nil, fmt.Errorf("%w: range on non-numeric field %q", ErrInvalidFilter, field)
	}
	if gte.IsAbsent() && lte.IsAbsent() {
		return nil, fmt.Errorf("%w: %s: range needs at least one bound", ErrInvalidFilter, field)
	}
	return Range{Field: field, Gte: gte, Lte: lte}, nil
}

// NewAnd は検証済みの And を作成します
func NewAnd(clauses ...Filter) (Filter, error) {
	if len(clauses) == 0 {
		return nil, fmt.Errorf("%w: and: no clauses", ErrInvalidFilter)
	}
	for _, c := range clauses {
		if c == nil {
			return nil, fmt.Errorf("%w: and: nil clause", ErrInvalidFilter)
		}
	}
	return And{Clauses: clauses}, nil
}

// BuildFilter は利用者の選択から検索条件を組み立てます
// ソース1件は Equals、複数件は OneOf、ページの上下限はそれぞれ Range になり
// 条件が複数あれば And でまとめる。何も選択されていなければ None
func BuildFilter(sources []string, pageFrom, pageTo mo.Option[int]) mo.Option[Filter] {
	var clauses []Filter

	var selected []string
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(selected, s) {
			selected = append(selected, s)
		}
	}
	switch len(selected) {
	case 0:
	case 1:
		clauses = append(clauses, Equals{Field: FieldSource, Value: selected[0]})
	default:
		values := make([]any, len(selected))
		for i, s := range selected {
			values[i] = s
		}
		clauses = append(clauses, OneOf{Field: FieldSource, Values: values})
	}

	if from, ok := pageFrom.Get(); ok {
		clauses = append(clauses, Range{Field: FieldPage, Gte: mo.Some(from)})
	}
	if to, ok := pageTo.Get(); ok {
		clauses = append(clauses, Range{Field: FieldPage, Lte: mo.Some(to)})
	}

	switch len(clauses) {
	case 0:
		return mo.None[Filter]()
	case 1:
		return mo.Some(clauses[0])
	default:
		return mo.Some[Filter](And{Clauses: clauses})
	}
}

// checkValue は値をフィールドの型に合わせて正規化します
// 整数フィールドには整数値の float64 と数値文字列も受け付ける
func checkValue(field Field, value any) (any, error) {
	kind, ok := field.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
	}

	switch kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidFilter, field, value)
		}
		return s, nil
	default:
		n, ok := toInt(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an integer, got %v", ErrInvalidFilter, field, value)
		}
		return n, nil
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
