package table

// View is the rendered form of a model: headers, one cell per column per
// row, and the error text of the last failed fetch.
type View struct {
	Name    string   `json:"name"`
	Version uint64   `json:"version"`
	Headers []Header `json:"headers"`
	Rows    [][]Cell `json:"rows"`
	Error   string   `json:"error,omitempty"`
	Sort    Sort     `json:"sort"`
	Loading bool     `json:"loading"`
	Scope   Scope    `json:"scope,omitempty"`
}

// Header describes one column of a view.
type Header struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Sortable bool   `json:"sortable"`
}

// View renders the current model.
func (b *Binding[T]) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

// ViewOf renders m, a model taken earlier with Snapshot, so a caller can
// show exactly the rows it inspected.
func (b *Binding[T]) ViewOf(m Model[T]) View {
	v := View{
		Name:    b.name,
		Version: m.Version,
		Headers: Headers(b.columns),
		Rows:    Render(m.Rows, b.columns),
		Sort:    m.Sort,
		Loading: m.Loading,
		Scope:   m.Scope,
	}
	if m.Err != nil {
		v.Error = m.Err.Error()
	}
	return v
}

func (b *Binding[T]) viewLocked() View {
	v := View{
		Name:    b.name,
		Version: b.version,
		Headers: Headers(b.columns),
		Rows:    Render(b.rows, b.columns),
		Sort:    b.sort,
		Loading: b.inflight != nil,
		Scope:   b.scope,
	}
	if b.err != nil {
		v.Error = b.err.Error()
	}
	return v
}

// Headers lists the column headers.
func Headers[T any](columns []Column[T]) []Header {
	out := make([]Header, len(columns))
	for i, c := range columns {
		out[i] = Header{Key: c.Key, Title: c.Header, Sortable: c.Sortable && c.Value != nil}
	}
	return out
}

// Render produces the cells of rows.
func Render[T any](rows []T, columns []Column[T]) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, r := range rows {
		cells := make([]Cell, len(columns))
		for j, c := range columns {
			cells[j] = c.cell(r)
		}
		out[i] = cells
	}
	return out
}
