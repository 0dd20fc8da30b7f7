package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ginjaninja78/boq-rate-filler/internal/types"
	"github.com/ginjaninja78/boq-rate-filler/internal/xlsxparser"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// ELEMENT SPANS
// =============================================================================

// span locates one element in the source bytes.
type span struct {
	name       xml.Name
	attrs      []xml.Attr
	start      int // '<' of the start tag
	openEnd    int // just past the start tag
	closeStart int // '<' of the end tag; equals end when self-closing
	end        int
}

func (s span) selfClosing() bool { return s.openEnd == s.end }

func (s span) attr(local string) (string, bool) {
	for _, a := range s.attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// prefix returns the element's namespace prefix with its colon, or "".
func (s span) prefix() string {
	if s.name.Space == "" {
		return ""
	}
	return s.name.Space + ":"
}

type cellSpan struct {
	span
	col      int
	children []span
}

type rowSpan struct {
	span
	number int
	cells  []cellSpan
}

type colSpan struct {
	span
	min, max int // 1-based, inclusive
	width    float64
	hasWidth bool
}

// sheetLayout is the part of a worksheet the splicer needs. Only rows that
// will be edited are recorded.
type sheetLayout struct {
	sheetData span
	hasData   bool
	cols      *span
	colList   []colSpan
	rows      map[int]*rowSpan
	rowStarts []rowStart // every row of sheetData, in document order
}

type rowStart struct {
	number, start int
}

func parentName(stack []*span) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1].name.Local
}

// scanSheet walks the worksheet with raw tokens and records offsets for
// sheetData, cols and the rows listed in want.
func scanSheet(data []byte, want map[int]bool) (*sheetLayout, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	lay := &sheetLayout{rows: make(map[int]*rowSpan)}

	var (
		stack   []*span
		row     *rowSpan
		cell    *cellSpan
		lastRow int
		lastCol = -1
	)

	for {
		start := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed worksheet XML: %w", err)
		}
		end := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			el := &span{name: t.Name, attrs: append([]xml.Attr(nil), t.Attr...), start: start, openEnd: end}
			switch parent := parentName(stack); {
			case t.Name.Local == "row" && parent == "sheetData":
				n := lastRow + 1
				if v, ok := el.attr("r"); ok {
					if x, err := strconv.Atoi(v); err == nil && x > 0 {
						n = x
					}
				}
				lastRow, lastCol = n, -1
				lay.rowStarts = append(lay.rowStarts, rowStart{number: n, start: start})
				row = nil
				if want[n] {
					row = &rowSpan{number: n}
				}
			case t.Name.Local == "c" && parent == "row":
				col := lastCol + 1
				if v, ok := el.attr("r"); ok {
					if c, _, err := excelize.CellNameToCoordinates(v); err == nil {
						col = c - 1
					}
				}
				lastCol = col
				if row != nil {
					cell = &cellSpan{col: col}
				}
			}
			stack = append(stack, el)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("unbalanced worksheet XML")
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			el.closeStart, el.end = start, end

			switch parent := parentName(stack); {
			case el.name.Local == "sheetData" && parent == "worksheet":
				lay.sheetData, lay.hasData = *el, true
			case el.name.Local == "cols" && parent == "worksheet":
				c := *el
				lay.cols = &c
			case el.name.Local == "col" && parent == "cols":
				lay.colList = append(lay.colList, newColSpan(*el))
			case el.name.Local == "row" && parent == "sheetData":
				if row != nil {
					row.span = *el
					lay.rows[row.number] = row
				}
				row = nil
			case el.name.Local == "c" && parent == "row":
				if row != nil && cell != nil {
					cell.span = *el
					row.cells = append(row.cells, *cell)
				}
				cell = nil
			case parent == "c" && cell != nil:
				cell.children = append(cell.children, *el)
			}
		}
	}

	if !lay.hasData {
		return nil, errors.New("worksheet has no sheetData")
	}
	return lay, nil
}

func newColSpan(s span) colSpan {
	c := colSpan{span: s}
	if v, ok := s.attr("min"); ok {
		c.min, _ = strconv.Atoi(v)
	}
	if v, ok := s.attr("max"); ok {
		c.max, _ = strconv.Atoi(v)
	}
	if c.max < c.min {
		c.max = c.min
	}
	if v, ok := s.attr("width"); ok {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.width, c.hasWidth = w, true
		}
	}
	return c
}

// =============================================================================
// EDITS
// =============================================================================

// edit replaces src[start:end] with data. start == end is an insertion.
type edit struct {
	start, end int
	data       []byte
	order      int
}

// applyEdits copies src with every edit applied. At one offset insertions
// come before a replacement, and insertions keep their order.
func applyEdits(src []byte, edits []edit) ([]byte, error) {
	sort.SliceStable(edits, func(i, j int) bool {
		a, b := edits[i], edits[j]
		if a.start != b.start {
			return a.start < b.start
		}
		ai, bi := a.start == a.end, b.start == b.end
		if ai != bi {
			return ai
		}
		return a.order < b.order
	})

	var out bytes.Buffer
	out.Grow(len(src) + 64*len(edits))
	pos := 0
	for _, e := range edits {
		if e.start < pos || e.end < e.start || e.end > len(src) {
			return nil, fmt.Errorf("overlapping edit at offset %d", e.start)
		}
		out.Write(src[pos:e.start])
		out.Write(e.data)
		pos = e.end
	}
	out.Write(src[pos:])
	return out.Bytes(), nil
}

// =============================================================================
// WORKSHEET SPLICING
// =============================================================================

// spliceSheet applies the plan and the column widths to the worksheet XML.
func spliceSheet(data []byte, p *plan, widths map[int]float64, opts Options) ([]byte, error) {
	want := make(map[int]bool, len(p.writes))
	for r := range p.writes {
		want[r] = true
	}
	lay, err := scanSheet(data, want)
	if err != nil {
		return nil, err
	}
	pfx := lay.sheetData.prefix()

	var (
		edits   []edit
		newRows bytes.Buffer
	)
	for _, r := range p.rows() {
		row, ok := lay.rows[r]
		if !ok || row.selfClosing() {
			cells, err := renderRowCells(pfx, r, p.writes[r], opts.ClearStyle)
			if err != nil {
				return nil, err
			}
			switch {
			case ok:
				// <row r="n"/> is reopened around its new cells.
				var b bytes.Buffer
				b.Write(startTag(row.name, row.attrs, false))
				b.Write(cells)
				b.WriteString("</" + qualified(row.name) + ">")
				edits = append(edits, edit{start: row.start, end: row.end, data: b.Bytes(), order: r})
			case lay.sheetData.selfClosing():
				newRows.WriteString(`<` + pfx + `row r="` + strconv.Itoa(r) + `">`)
				newRows.Write(cells)
				newRows.WriteString("</" + pfx + "row>")
			default:
				var b bytes.Buffer
				b.WriteString(`<` + pfx + `row r="` + strconv.Itoa(r) + `">`)
				b.Write(cells)
				b.WriteString("</" + pfx + "row>")
				at := lay.rowInsertAt(r)
				edits = append(edits, edit{start: at, end: at, data: b.Bytes(), order: r})
			}
			continue
		}

		cols := sortedCols(p.writes[r])
		for _, col := range cols {
			w := p.writes[r][col]
			ref, err := xlsxparser.CellName(col, r)
			if err != nil {
				return nil, err
			}
			existing := row.cell(col)
			if existing != nil {
				edits = append(edits, edit{
					start: existing.start,
					end:   existing.end,
					data:  renderCell(existing.prefix(), ref, existing, w, data, opts.ClearStyle),
					order: col,
				})
				continue
			}
			at := row.closeStart
			for _, c := range row.cells {
				if c.col > col {
					at = c.start
					break
				}
			}
			edits = append(edits, edit{start: at, end: at, data: renderCell(pfx, ref, nil, w, data, opts.ClearStyle), order: col})
		}
	}
	if newRows.Len() > 0 {
		sd := lay.sheetData
		var b bytes.Buffer
		b.Write(startTag(sd.name, sd.attrs, false))
		b.Write(newRows.Bytes())
		b.WriteString("</" + qualified(sd.name) + ">")
		edits = append(edits, edit{start: sd.start, end: sd.end, data: b.Bytes()})
	}

	edits = append(edits, widthEdits(lay, widths, pfx)...)
	return applyEdits(data, edits)
}

// rowInsertAt returns the offset where a missing row n belongs: before the
// first row numbered above it, or at the end of sheetData.
func (lay *sheetLayout) rowInsertAt(n int) int {
	for _, rs := range lay.rowStarts {
		if rs.number > n {
			return rs.start
		}
	}
	return lay.sheetData.closeStart
}

// renderRowCells renders the planned cells of a row that has none yet.
func renderRowCells(pfx string, row int, writes map[int]cellWrite, clearStyle bool) ([]byte, error) {
	var b bytes.Buffer
	for _, col := range sortedCols(writes) {
		ref, err := xlsxparser.CellName(col, row)
		if err != nil {
			return nil, err
		}
		b.Write(renderCell(pfx, ref, nil, writes[col], nil, clearStyle))
	}
	return b.Bytes(), nil
}

func sortedCols(writes map[int]cellWrite) []int {
	cols := make([]int, 0, len(writes))
	for col := range writes {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	return cols
}

func (r *rowSpan) cell(col int) *cellSpan {
	for i := range r.cells {
		if r.cells[i].col == col {
			return &r.cells[i]
		}
	}
	return nil
}

// rangeFormula returns the cell's <f> when it anchors a range, as the
// master of a shared formula or an array formula does. Nil-safe.
func (c *cellSpan) rangeFormula() *span {
	if c == nil {
		return nil
	}
	for i := range c.children {
		f := &c.children[i]
		if f.name.Local != "f" {
			continue
		}
		if ref, ok := f.attr("ref"); ok && ref != "" {
			return f
		}
	}
	return nil
}

// renderCell builds the replacement <c> element. An existing cell keeps its
// attributes except t (and s when clearStyle) and keeps any child other than
// f, v and is. A formula anchoring a shared or array range is kept as is.
func renderCell(pfx, ref string, existing *cellSpan, w cellWrite, src []byte, clearStyle bool) []byte {
	var b bytes.Buffer
	name := pfx + "c"

	b.WriteString("<" + name)
	if existing == nil {
		writeAttr(&b, "r", ref)
	} else {
		for _, a := range existing.attrs {
			if a.Name.Space == "" && (a.Name.Local == "t" || (clearStyle && a.Name.Local == "s")) {
				continue
			}
			writeAttr(&b, qualified(a.Name), a.Value)
		}
	}
	if w.kind == types.CellText {
		writeAttr(&b, "t", "inlineStr")
	}
	b.WriteByte('>')

	switch w.kind {
	case types.CellText:
		b.WriteString("<" + pfx + "is><" + pfx + "t")
		if strings.TrimSpace(w.text) != w.text {
			b.WriteString(` xml:space="preserve"`)
		}
		b.WriteByte('>')
		b.WriteString(escapeXML(w.text))
		b.WriteString("</" + pfx + "t></" + pfx + "is>")
	case types.CellNumber:
		b.WriteString("<" + pfx + "v>" + formatNumber(w.number) + "</" + pfx + "v>")
	case types.CellFormula:
		if master := existing.rangeFormula(); master != nil {
			// Other cells of the ref range read their formula from this one.
			b.Write(src[master.start:master.end])
		} else {
			b.WriteString("<" + pfx + "f>" + escapeXML(w.formula) + "</" + pfx + "f>")
		}
		if w.cached != nil {
			b.WriteString("<" + pfx + "v>" + formatNumber(*w.cached) + "</" + pfx + "v>")
		}
	}

	if existing != nil {
		for _, ch := range existing.children {
			switch ch.name.Local {
			case "f", "v", "is":
				continue
			}
			b.Write(src[ch.start:ch.end])
		}
	}
	b.WriteString("</" + name + ">")
	return b.Bytes()
}

// widthEdits widens the <col> entries covering each column in widths,
// adding entries (and a <cols> element) where none exist.
func widthEdits(lay *sheetLayout, widths map[int]float64, pfx string) []edit {
	if len(widths) == 0 {
		return nil
	}
	cols := make([]int, 0, len(widths))
	for c := range widths {
		cols = append(cols, c)
	}
	sort.Ints(cols)

	var (
		edits  []edit
		fresh  []int
		widen  = map[int]float64{}
		covers []int
	)
	for _, c := range cols {
		need, n := widths[c], c+1
		idx := -1
		for i := range lay.colList {
			if lay.colList[i].min <= n && n <= lay.colList[i].max {
				idx = i
				break
			}
		}
		if idx < 0 {
			if need > DefaultColumnWidth {
				fresh = append(fresh, c)
			}
			continue
		}
		cover := lay.colList[idx]
		if cover.hasWidth && cover.width >= need {
			continue
		}
		if _, seen := widen[idx]; !seen {
			covers = append(covers, idx)
		}
		if need > widen[idx] {
			widen[idx] = need
		}
	}
	// One <col> may span several columns; it is rewritten once.
	for _, idx := range covers {
		cover := lay.colList[idx]
		attrs := setAttr(cover.attrs, "width", formatNumber(widen[idx]))
		attrs = setAttr(attrs, "customWidth", "1")
		end := cover.openEnd
		if cover.selfClosing() {
			end = cover.end
		}
		edits = append(edits, edit{start: cover.start, end: end, data: startTag(cover.name, attrs, cover.selfClosing()), order: idx})
	}
	if len(fresh) == 0 {
		return edits
	}

	colTag := func(c int) []byte {
		n := strconv.Itoa(c + 1)
		return startTag(xml.Name{Local: pfx + "col"}, []xml.Attr{
			{Name: xml.Name{Local: "min"}, Value: n},
			{Name: xml.Name{Local: "max"}, Value: n},
			{Name: xml.Name{Local: "width"}, Value: formatNumber(widths[c])},
			{Name: xml.Name{Local: "customWidth"}, Value: "1"},
		}, true)
	}

	switch {
	case lay.cols == nil:
		var b bytes.Buffer
		b.WriteString("<" + pfx + "cols>")
		for _, c := range fresh {
			b.Write(colTag(c))
		}
		b.WriteString("</" + pfx + "cols>")
		edits = append(edits, edit{start: lay.sheetData.start, end: lay.sheetData.start, data: b.Bytes()})
	case lay.cols.selfClosing():
		var b bytes.Buffer
		b.Write(startTag(lay.cols.name, lay.cols.attrs, false))
		for _, c := range fresh {
			b.Write(colTag(c))
		}
		b.WriteString("</" + qualified(lay.cols.name) + ">")
		edits = append(edits, edit{start: lay.cols.start, end: lay.cols.end, data: b.Bytes()})
	default:
		for _, c := range fresh {
			at := lay.cols.closeStart
			for _, existing := range lay.colList {
				if existing.min > c+1 {
					at = existing.start
					break
				}
			}
			edits = append(edits, edit{start: at, end: at, data: colTag(c), order: c})
		}
	}
	return edits
}

// =============================================================================
// XML HELPERS
// =============================================================================

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func writeAttr(b *bytes.Buffer, name, value string) {
	b.WriteString(" " + name + `="` + escapeXML(value) + `"`)
}

func startTag(name xml.Name, attrs []xml.Attr, selfClose bool) []byte {
	var b bytes.Buffer
	b.WriteString("<" + qualified(name))
	for _, a := range attrs {
		writeAttr(&b, qualified(a.Name), a.Value)
	}
	if selfClose {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.Bytes()
}

// setAttr returns attrs with local set to value, replacing an existing
// unprefixed attribute in place.
func setAttr(attrs []xml.Attr, local, value string) []xml.Attr {
	out := append([]xml.Attr(nil), attrs...)
	for i := range out {
		if out[i].Name.Space == "" && out[i].Name.Local == local {
			out[i].Value = value
			return out
		}
	}
	return append(out, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

// escapeXML escapes text for element content and attribute values.
func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// formatNumber renders v in the shortest exact decimal form.
func formatNumber(v float64) string {
	return decimal.NewFromFloat(v).String()
}
