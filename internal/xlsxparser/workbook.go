package xlsxparser

import (
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

const (
	workbookRelsPart     = "xl/_rels/workbook.xml.rels"
	defaultSharedStrings = "xl/sharedStrings.xml"
)

// SheetRef identifies a worksheet and the part that stores it.
type SheetRef struct {
	Name    string
	SheetID string
	RelID   string
	State   string

	// Index is the position of the sheet in workbook order, from 0.
	Index int

	// Part is the archive name of the worksheet XML.
	Part string

	// Strategy names how Part was located: "relationship", "sheet-id" or "position".
	Strategy string
}

// Relationship is one entry of a .rels part.
type Relationship struct {
	ID         string
	Type       string
	Target     string
	TargetMode string
}

// Sheets lists the worksheets declared in xl/workbook.xml with their parts
// resolved. A workbook that declares no sheets is a StructureError.
func (c *Container) Sheets() ([]SheetRef, error) {
	data, _, err := c.Part(WorkbookPart)
	if err != nil {
		return nil, err
	}

	refs, err := parseWorkbookSheets(data)
	if err != nil {
		return nil, pkgerrors.NewStructureError(WorkbookPart, err.Error())
	}
	if len(refs) == 0 {
		return nil, pkgerrors.NewStructureError(WorkbookPart, "no sheets declared")
	}

	rels, err := c.workbookRels()
	if err != nil {
		return nil, err
	}

	for i := range refs {
		part, strategy := c.resolveSheetPart(refs[i], rels)
		refs[i].Part = part
		refs[i].Strategy = strategy
	}
	return refs, nil
}

// ResolveSheet picks a sheet by name. An empty name selects the first sheet.
// Names are matched exactly first, then case-insensitively.
func (c *Container) ResolveSheet(name string) (SheetRef, error) {
	refs, err := c.Sheets()
	if err != nil {
		return SheetRef{}, err
	}

	var ref *SheetRef
	if name == "" {
		ref = &refs[0]
	} else {
		for i := range refs {
			if refs[i].Name == name {
				ref = &refs[i]
				break
			}
		}
		if ref == nil {
			want := strings.ToLower(strings.TrimSpace(name))
			for i := range refs {
				if strings.ToLower(strings.TrimSpace(refs[i].Name)) == want {
					ref = &refs[i]
					break
				}
			}
		}
	}

	if ref == nil {
		return SheetRef{}, pkgerrors.NewStructureError(WorkbookPart, "no sheet named "+strconv.Quote(name))
	}
	if ref.Part == "" {
		return SheetRef{}, pkgerrors.NewStructureError(WorkbookPart, "no worksheet part for sheet "+strconv.Quote(ref.Name))
	}
	return *ref, nil
}

// SheetData returns the worksheet XML for ref.
func (c *Container) SheetData(ref SheetRef) ([]byte, error) {
	data, ok, err := c.Part(ref.Part)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.NewStructureError(ref.Part, "part missing")
	}
	return data, nil
}

// =============================================================================
// SHEET PART RESOLUTION
// =============================================================================

var sheetPartPattern = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)

// resolveSheetPart locates the worksheet part of ref. The strategies are
// tried in order and none depends on archive entry order:
//  1. the workbook relationship target for the sheet's r:id
//  2. the literal xl/worksheets/sheet{sheetId}.xml
//  3. the sheet's position among the numerically sorted sheetN.xml parts
func (c *Container) resolveSheetPart(ref SheetRef, rels map[string]Relationship) (string, string) {
	if rel, ok := rels[ref.RelID]; ok && ref.RelID != "" {
		if name, ok := c.Name(resolveTarget("xl", rel.Target)); ok {
			return name, "relationship"
		}
	}

	if ref.SheetID != "" {
		if name, ok := c.Name("xl/worksheets/sheet" + ref.SheetID + ".xml"); ok {
			return name, "sheet-id"
		}
	}

	type numbered struct {
		n    int
		name string
	}
	var parts []numbered
	for key, f := range c.files {
		m := sheetPartPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, numbered{n: n, name: f.Name})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].n != parts[j].n {
			return parts[i].n < parts[j].n
		}
		return parts[i].name < parts[j].name
	})
	if ref.Index < len(parts) {
		return parts[ref.Index].name, "position"
	}
	return "", ""
}

// resolveTarget resolves a relationship target against the directory of
// its source part. Absolute targets start at the archive root.
func resolveTarget(baseDir, target string) string {
	target = strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(baseDir, target))
}

// =============================================================================
// WORKBOOK AND RELATIONSHIP PARSING
// =============================================================================

func parseWorkbookSheets(data []byte) ([]SheetRef, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var refs []SheetRef
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return refs, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		ref := SheetRef{Index: len(refs)}
		for _, a := range se.Attr {
			switch {
			case a.Name.Local == "name":
				ref.Name = a.Value
			case a.Name.Local == "sheetId":
				ref.SheetID = strings.TrimSpace(a.Value)
			case a.Name.Local == "state":
				ref.State = a.Value
			case a.Name.Local == "id" && a.Name.Space != "":
				ref.RelID = a.Value
			}
		}
		refs = append(refs, ref)
	}
}

func (c *Container) workbookRels() (map[string]Relationship, error) {
	data, ok, err := c.Part(workbookRelsPart)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]Relationship{}, nil
	}
	rels, err := parseRelationships(data)
	if err != nil {
		return nil, pkgerrors.NewStructureError(workbookRelsPart, err.Error())
	}
	return rels, nil
}

func parseRelationships(data []byte) (map[string]Relationship, error) {
	var doc struct {
		Relationships []struct {
			ID         string `xml:"Id,attr"`
			Type       string `xml:"Type,attr"`
			Target     string `xml:"Target,attr"`
			TargetMode string `xml:"TargetMode,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	rels := make(map[string]Relationship, len(doc.Relationships))
	for _, r := range doc.Relationships {
		rels[r.ID] = Relationship{ID: r.ID, Type: r.Type, Target: r.Target, TargetMode: r.TargetMode}
	}
	return rels, nil
}

// sharedStringsPart finds the shared string table through the workbook
// relationships, falling back to the conventional name.
func (c *Container) sharedStringsPart() (string, error) {
	rels, err := c.workbookRels()
	if err != nil {
		return "", err
	}
	for _, r := range rels {
		if strings.HasSuffix(r.Type, "/sharedStrings") {
			if name, ok := c.Name(resolveTarget("xl", r.Target)); ok {
				return name, nil
			}
		}
	}
	if name, ok := c.Name(defaultSharedStrings); ok {
		return name, nil
	}
	return "", nil
}
