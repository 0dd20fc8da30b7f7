package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// calcPrSuccessors are the workbook children that must follow calcPr.
var calcPrSuccessors = map[string]bool{
	"oleSize":             true,
	"customWorkbookViews": true,
	"pivotCaches":         true,
	"smartTagPr":          true,
	"smartTagTypes":       true,
	"webPublishing":       true,
	"fileRecoveryPr":      true,
	"webPublishObjects":   true,
	"extLst":              true,
}

// setCalcPr makes the workbook recalculate on open. The bool is false when
// calcPr already had the required values.
func setCalcPr(data []byte) ([]byte, bool, error) {
	root, children, err := topLevel(data)
	if err != nil {
		return nil, false, err
	}

	for _, ch := range children {
		if ch.name.Local != "calcPr" {
			continue
		}
		mode, _ := ch.attr("calcMode")
		full, _ := ch.attr("fullCalcOnLoad")
		if mode == "auto" && (full == "1" || full == "true") {
			return data, false, nil
		}
		attrs := setAttr(ch.attrs, "calcMode", "auto")
		attrs = setAttr(attrs, "fullCalcOnLoad", "1")
		end := ch.openEnd
		if ch.selfClosing() {
			end = ch.end
		}
		out, err := applyEdits(data, []edit{{start: ch.start, end: end, data: startTag(ch.name, attrs, ch.selfClosing())}})
		return out, err == nil, err
	}

	if root.selfClosing() {
		return nil, false, errors.New("workbook has no sheets")
	}
	at := root.closeStart
	for _, ch := range children {
		if calcPrSuccessors[ch.name.Local] {
			at = ch.start
			break
		}
	}
	tag := startTag(xml.Name{Local: root.prefix() + "calcPr"}, []xml.Attr{
		{Name: xml.Name{Local: "calcMode"}, Value: "auto"},
		{Name: xml.Name{Local: "fullCalcOnLoad"}, Value: "1"},
	}, true)
	out, err := applyEdits(data, []edit{{start: at, end: at, data: tag}})
	return out, err == nil, err
}

// topLevel returns the root element and its direct children.
func topLevel(data []byte) (span, []span, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		stack    []*span
		root     *span
		children []span
	)
	for {
		start := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return span{}, nil, fmt.Errorf("malformed workbook XML: %w", err)
		}
		end := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, &span{name: t.Name, attrs: append([]xml.Attr(nil), t.Attr...), start: start, openEnd: end})
		case xml.EndElement:
			if len(stack) == 0 {
				return span{}, nil, errors.New("unbalanced workbook XML")
			}
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			el.closeStart, el.end = start, end
			switch len(stack) {
			case 0:
				root = el
			case 1:
				children = append(children, *el)
			}
		}
	}
	if root == nil {
		return span{}, nil, errors.New("workbook has no root element")
	}
	return *root, children, nil
}
