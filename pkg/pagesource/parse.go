package pagesource

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/node"
)

// Parse parses Android UI hierarchy XML into a snapshot tree.
// Supports both formats:
// - UIAutomator dump: uses class name as element tag (e.g., <android.widget.FrameLayout>)
// - Appium/UiAutomator2 format: uses <node> elements with a class attribute
func Parse(xmlData string) (*Tree, error) {
	return ParseReader(strings.NewReader(xmlData))
}

// ParseFile reads and parses a hierarchy dump from disk.
func ParseFile(path string) (*Tree, error) {
	f, err := os.Open(path) //#nosec G304 -- user-provided hierarchy file
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tree, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// ParseReader parses a hierarchy dump from r.
func ParseReader(r io.Reader) (*Tree, error) {
	decoder := xml.NewDecoder(r)
	tree := NewTree()
	foundHierarchy := false

	var parseChildren func(parent *Element) error
	parseChildren = func(parent *Element) error {
		for {
			token, err := decoder.Token()
			if err != nil {
				return err
			}

			switch t := token.(type) {
			case xml.StartElement:
				// Nested hierarchy tags are transparent
				if t.Name.Local == HierarchyClass {
					foundHierarchy = true
					if err := parseChildren(parent); err != nil {
						return err
					}
					continue
				}

				elem := parent.Append(parseAttrs(t))
				if err := parseChildren(elem); err != nil {
					return err
				}

			case xml.EndElement:
				return nil // End of current element
			}
		}
	}

	err := parseChildren(tree.root)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, core.ErrInvalidHierarchy.WithCause(err)
	}
	if !foundHierarchy {
		return nil, core.ErrInvalidHierarchy.WithMessage("invalid page source: no hierarchy element found")
	}

	return tree, nil
}

func parseAttrs(t xml.StartElement) Attrs {
	attrs := Attrs{
		Class:     t.Name.Local, // Class name is the element tag
		Displayed: true,
	}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			attrs.Text = attr.Value
		case "resource-id":
			attrs.ResourceID = attr.Value
		case "content-desc":
			attrs.ContentDesc = attr.Value
		case "hint":
			attrs.HintText = attr.Value
		case "class":
			attrs.Class = attr.Value // Override if class attr exists
		case "package":
			attrs.Package = attr.Value
		case "bounds":
			attrs.Bounds = parseBounds(attr.Value)
		case "enabled":
			attrs.Enabled = attr.Value == "true"
		case "selected":
			attrs.Selected = attr.Value == "true"
		case "focused":
			attrs.Focused = attr.Value == "true"
		case "checked":
			attrs.Checked = attr.Value == "true"
		case "displayed", "visible-to-user":
			attrs.Displayed = attr.Value != "false"
		case "clickable":
			attrs.Clickable = attr.Value == "true"
		case "scrollable":
			attrs.Scrollable = attr.Value == "true"
		}
	}
	return attrs
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]" to a Rect.
func parseBounds(s string) node.Rect {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return node.Rect{}
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return node.Rect{}
		}
		v[i] = n
	}

	return node.Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}
}
