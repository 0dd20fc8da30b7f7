package xlsxparser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	pkgerrors "github.com/ginjaninja78/boq-rate-filler/pkg/errors"
)

// SharedStrings returns the workbook's shared string table. A workbook
// without one yields an empty table.
func (c *Container) SharedStrings() ([]string, error) {
	name, err := c.sharedStringsPart()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return []string{}, nil
	}
	data, _, err := c.Part(name)
	if err != nil {
		return nil, err
	}
	sst, err := parseSharedStrings(data)
	if err != nil {
		return nil, pkgerrors.NewStructureError(name, err.Error())
	}
	return sst, nil
}

// parseSharedStrings reads every <si> entry. An entry's text is the
// concatenation of all its <t> runs, so rich text comes back as plain text.
// Phonetic runs (<rPh>) are not part of the displayed text and are skipped.
func parseSharedStrings(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out      []string
		sb       strings.Builder
		inItem   bool
		inText   bool
		phonetic int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				sb.Reset()
			case "rPh":
				phonetic++
			case "t":
				inText = inItem && phonetic == 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, sb.String())
				inItem = false
			case "rPh":
				phonetic--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
}
