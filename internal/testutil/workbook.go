// Package testutil builds in-memory workbooks for tests. Hand-assembled
// archives give exact control over part bytes; excelize-built ones come from
// a real spreadsheet producer.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// Part is one archive entry.
type Part struct {
	Name string
	Body string
}

// Zip deflates parts, in order, into an archive.
func Zip(t testing.TB, parts ...Part) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p.Name, Method: zip.Deflate})
		require.NoError(t, err)
		_, err = io.WriteString(w, p.Body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Unzip returns every part of an archive by name.
func Unzip(t testing.TB, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

const (
	nsMain = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"
	nsRel  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

// SheetXML wraps row elements into a worksheet document.
func SheetXML(rows ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<worksheet xmlns="` + nsMain + `" xmlns:r="` + nsRel + `">` +
		`<sheetData>` + strings.Join(rows, "") + `</sheetData></worksheet>`
}

// SharedStringsXML renders a shared string table.
func SharedStringsXML(items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+"\n"+
		`<sst xmlns="%s" count="%d" uniqueCount="%d">`, nsMain, len(items), len(items))
	for _, s := range items {
		b.WriteString("<si><t>" + escape(s) + "</t></si>")
	}
	b.WriteString("</sst>")
	return b.String()
}

// Workbook assembles a single-sheet workbook named "Sheet1" from worksheet
// XML and an optional shared string table.
func Workbook(t testing.TB, sheetXML string, sharedStrings ...string) []byte {
	t.Helper()
	return WorkbookSheets(t, []string{"Sheet1"}, []string{sheetXML}, sharedStrings...)
}

// WorkbookSheets assembles a workbook with one worksheet per name.
func WorkbookSheets(t testing.TB, names, sheets []string, sharedStrings ...string) []byte {
	t.Helper()
	require.Equal(t, len(names), len(sheets))

	var ct, rels, decl strings.Builder
	ct.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>`)
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)

	parts := []Part{{Name: "[Content_Types].xml"}}
	for i, name := range names {
		n := i + 1
		fmt.Fprintf(&ct, `<Override PartName="/xl/worksheets/sheet%d.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>`, n)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="%s/worksheet" Target="worksheets/sheet%d.xml"/>`, n, nsRel, n)
		fmt.Fprintf(&decl, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, escape(name), n, n)
		parts = append(parts, Part{Name: fmt.Sprintf("xl/worksheets/sheet%d.xml", n), Body: sheets[i]})
	}
	if len(sharedStrings) > 0 {
		ct.WriteString(`<Override PartName="/xl/sharedStrings.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sharedStrings+xml"/>`)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="%s/sharedStrings" Target="sharedStrings.xml"/>`, len(names)+1, nsRel)
		parts = append(parts, Part{Name: "xl/sharedStrings.xml", Body: SharedStringsXML(sharedStrings...)})
	}
	ct.WriteString(`</Types>`)
	rels.WriteString(`</Relationships>`)

	parts[0].Body = ct.String()
	parts = append(parts,
		Part{Name: "_rels/.rels", Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="` + nsRel + `/officeDocument" Target="xl/workbook.xml"/></Relationships>`},
		Part{Name: "xl/workbook.xml", Body: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
			`<workbook xmlns="` + nsMain + `" xmlns:r="` + nsRel + `"><sheets>` + decl.String() + `</sheets></workbook>`},
		Part{Name: "xl/_rels/workbook.xml.rels", Body: rels.String()},
	)
	return Zip(t, parts...)
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// =============================================================================
// EXCELIZE-BUILT WORKBOOKS
// =============================================================================

// BOQHeader is the conventional header used by the excelize fixtures.
var BOQHeader = []any{"Item", "Description", "Unit", "Qty", "Rate", "Amount"}

// Excelize writes rows (starting at A1) into a fresh workbook whose only
// sheet is named sheet, and returns the saved bytes. Nil entries leave the
// cell empty.
func Excelize(t testing.TB, sheet string, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "" && sheet != "Sheet1" {
		require.NoError(t, f.SetSheetName("Sheet1", sheet))
	} else {
		sheet = "Sheet1"
	}
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// Open reads workbook bytes with excelize.
func Open(t testing.TB, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}
