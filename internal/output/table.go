package output

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Align is the alignment of a table column.
type Align int

// Column alignments.
const (
	AlignLeft Align = iota
	AlignRight
)

const ellipsis = "…"

// Table renders tabular data for text output.
type Table struct {
	headers   []string
	rows      [][]string
	align     map[int]Align
	maxWidth  map[int]int
	noHeader  bool
	separator string
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers:   headers,
		align:     make(map[int]Align),
		maxWidth:  make(map[int]int),
		separator: "  ",
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// SetAlign sets the alignment of column col.
func (t *Table) SetAlign(col int, align Align) *Table {
	t.align[col] = align
	return t
}

// SetMaxWidth truncates cells of column col to width runes, keeping the
// head and the tail. Hashes and addresses stay recognizable this way.
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// SetNoHeader suppresses the header row.
func (t *Table) SetNoHeader(noHeader bool) {
	t.noHeader = noHeader
}

// SetSeparator sets the column separator.
func (t *Table) SetSeparator(sep string) {
	t.separator = sep
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return nil
	}

	rows := t.cells()
	widths := columnWidths(rows)

	for i, row := range rows {
		if err := t.renderRow(w, row, widths); err != nil {
			return err
		}
		if i == 0 && t.hasHeader() {
			if err := t.renderSeparatorLine(w, widths); err != nil {
				return err
			}
		}
	}
	return nil
}

// RenderText implements TextRenderer.
func (t *Table) RenderText(w io.Writer) error {
	return t.Render(w)
}

// String returns the table as a string.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

func (t *Table) hasHeader() bool {
	return !t.noHeader && len(t.headers) > 0
}

// cells returns the header (when shown) and rows with truncation applied.
func (t *Table) cells() [][]string {
	out := make([][]string, 0, len(t.rows)+1)
	if t.hasHeader() {
		out = append(out, t.headers)
	}
	for _, row := range t.rows {
		truncated := make([]string, len(row))
		for i, cell := range row {
			truncated[i] = t.truncate(i, cell)
		}
		out = append(out, truncated)
	}
	return out
}

func (t *Table) truncate(col int, cell string) string {
	limit, ok := t.maxWidth[col]
	if !ok || limit <= 0 || utf8.RuneCountInString(cell) <= limit {
		return cell
	}
	runes := []rune(cell)
	if limit < 3 {
		return string(runes[:limit])
	}
	keep := limit - 1
	head := (keep + 1) / 2
	tail := keep - head
	return string(runes[:head]) + ellipsis + string(runes[len(runes)-tail:])
}

func columnWidths(rows [][]string) []int {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

func (t *Table) renderRow(w io.Writer, cells []string, widths []int) error {
	parts := make([]string, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(cell))
		if t.align[i] == AlignRight {
			parts[i] = pad + cell
		} else {
			parts[i] = cell + pad
		}
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, t.separator), " "))
	return err
}

func (t *Table) renderSeparatorLine(w io.Writer, widths []int) error {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("-", width)
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, t.separator))
	return err
}
