package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when sorting by a key that names no sortable column.
var ErrUnknownColumn = errors.New("unknown or unsortable column")

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection maps "desc" to Desc and everything else to Asc.
func ParseDirection(s string) Direction {
	if strings.EqualFold(s, string(Desc)) {
		return Desc
	}
	return Asc
}

// Sort names a column and a direction. The zero value means fetch order.
type Sort struct {
	Key       string    `json:"key,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// Cell is the display value of one column for one row.
type Cell struct {
	Text        string `json:"text,omitempty"`
	Href        string `json:"href,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Alt         string `json:"alt,omitempty"`
	Badge       string `json:"badge,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Column maps one field of T to a cell. Value is the sort key and Render the
// display value; both must be pure functions of the row.
type Column[T any] struct {
	Key      string
	Header   string
	Value    func(T) any
	Render   func(T) Cell
	Sortable bool
}

func (c Column[T]) cell(row T) Cell {
	if c.Render != nil {
		return c.Render(row)
	}
	if c.Value == nil {
		return Cell{}
	}
	return Cell{Text: text(c.Value(row))}
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// sortRows returns a copy of rows ordered by col. Equal keys keep their
// relative order in rows.
func sortRows[T any](rows []T, col Column[T], dir Direction) []T {
	keys := make([]any, len(rows))
	for i, r := range rows {
		keys[i] = col.Value(r)
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		c := compare(keys[idx[i]], keys[idx[j]])
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})
	sorted := make([]T, len(rows))
	for i, k := range idx {
		sorted[i] = rows[k]
	}
	return sorted
}

// compare orders nil (and nil pointers) before every other value.
func compare(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(strings.ToLower(x), strings.ToLower(y))
		}
	case int:
		if y, ok := b.(int); ok {
			return cmpOrdered(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(text(a), text(b))
}

func deref(v any) any {
	switch x := v.(type) {
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func cmpOrdered[N int | int64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
