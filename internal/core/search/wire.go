package search

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/mo"
)

// ToWire はフィルタをJSON互換の表現に変換します
//
//	{"source": "a.pdf"}
//	{"source": {"in": ["a.pdf", "b.pdf"]}}
//	{"page": {"gte": 2}}
//	{"and": [ ... ]}
func ToWire(f Filter) map[string]any {
	switch v := f.(type) {
	case Equals:
		return map[string]any{string(v.Field): v.Value}
	case OneOf:
		return map[string]any{string(v.Field): map[string]any{"in": slices.Clone(v.Values)}}
	case Range:
		ops := map[string]any{}
		if n, ok := v.Gte.Get(); ok {
			ops["gte"] = n
		}
		if n, ok := v.Lte.Get(); ok {
			ops["lte"] = n
		}
		return map[string]any{string(v.Field): ops}
	case And:
		clauses := make([]any, len(v.Clauses))
		for i, c := range v.Clauses {
			clauses[i] = ToWire(c)
		}
		return map[string]any{"and": clauses}
	default:
		return nil
	}
}

// ParseWire はJSON互換の表現からフィルタを組み立てて検証します
// 演算子の "$" 接頭辞（"$and", "$in" など）も受け付ける
// 空の表現は None を返す
func ParseWire(raw map[string]any) (mo.Option[Filter], error) {
	if len(raw) == 0 {
		return mo.None[Filter](), nil
	}
	f, err := parseNode(raw)
	if err != nil {
		return mo.None[Filter](), err
	}
	return mo.Some(f), nil
}

func parseNode(raw map[string]any) (Filter, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty clause", ErrInvalidFilter)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	clauses := make([]Filter, 0, len(keys))
	for _, key := range keys {
		value := raw[key]
		if operator(key) == "and" {
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: and expects a list, got %T", ErrInvalidFilter, value)
			}
			sub := make([]Filter, 0, len(list))
			for _, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: and clause must be an object, got %T", ErrInvalidFilter, item)
				}
				c, err := parseNode(m)
				if err != nil {
					return nil, err
				}
				sub = append(sub, c)
			}
			c, err := NewAnd(sub...)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, c)
			continue
		}

		c, err := parseField(Field(key), value)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return NewAnd(clauses...)
}

func parseField(field Field, value any) (Filter, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		return NewEquals(field, value)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: %s: empty operator object", ErrInvalidFilter, field)
	}

	var (
		gte, lte mo.Option[int]
		filter   Filter
		err      error
	)
	for key, operand := range ops {
		switch operator(key) {
		case "eq":
			filter, err = NewEquals(field, operand)
		case "in":
			list, ok := operand.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: in expects a list, got %T", ErrInvalidFilter, field, operand)
			}
			filter, err = NewOneOf(field, list...)
		case "gte":
			n, ok := toInt(operand)
			if !ok {
				return nil, fmt.Errorf("%w: %s: gte expects an integer, got %v", ErrInvalidFilter, field, operand)
			}
			gte = mo.Some(n)
		case "lte":
			n, ok := toInt(operand)
			if !ok {
				return nil, fmt.Errorf("%w: %s: lte expects an integer, got %v", ErrInvalidFilter, field, operand)
			}
			lte = mo.Some(n)
		default:
			return nil, fmt.Errorf("%w: %s: unsupported operator %q", ErrInvalidFilter, field, key)
		}
		if err != nil {
			return nil, err
		}
	}

	hasRange := gte.IsPresent() || lte.IsPresent()
	switch {
	case filter != nil && hasRange, filter != nil && len(ops) > 1:
		return nil, fmt.Errorf("%w: %s: cannot combine operators %v", ErrInvalidFilter, field, mapKeys(ops))
	case filter != nil:
		return filter, nil
	default:
		return NewRange(field, gte, lte)
	}
}

func operator(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, "$"))
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
