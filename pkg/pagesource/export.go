package pagesource

import (
	"encoding/xml"
	"io"

	"github.com/devicelab-dev/autosdk/pkg/node"
)

// Snapshot is a detached, serialisable copy of a subtree. Unlike a Node it
// may be kept after the host snapshot goes stale.
type Snapshot struct {
	Text        string     `json:"text,omitempty"`
	Description string     `json:"description,omitempty"`
	ClassName   string     `json:"className"`
	ResourceID  string     `json:"resourceId,omitempty"`
	PackageName string     `json:"packageName,omitempty"`
	Bounds      node.Rect  `json:"bounds"`
	Clickable   bool       `json:"clickable"`
	Visible     bool       `json:"visible"`
	Children    []Snapshot `json:"children,omitempty"`
}

// Export copies n and its reachable descendants.
func Export(n node.Node) Snapshot {
	s := Snapshot{
		ClassName: n.ClassName(),
		Bounds:    n.Bounds(),
		Clickable: n.Clickable(),
		Visible:   n.VisibleToUser(),
	}
	s.Text, _ = n.Text()
	s.Description, _ = n.Description()
	s.ResourceID, _ = n.ResourceID()
	s.PackageName, _ = n.PackageName()

	for i := 0; i < n.ChildCount(); i++ {
		if child := n.Child(i); child != nil {
			s.Children = append(s.Children, Export(child))
		}
	}
	return s
}

// WriteXML writes n's subtree in UIAutomator dump format, so an exported
// screen can be loaded back with Parse.
func WriteXML(w io.Writer, n node.Node) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	start := xml.StartElement{Name: xml.Name{Local: HierarchyClass}, Attr: []xml.Attr{{Name: xml.Name{Local: "rotation"}, Value: "0"}}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	children := []node.Node{n}
	if n.ClassName() == HierarchyClass && n.Parent() == nil {
		children = children[:0]
		for i := 0; i < n.ChildCount(); i++ {
			if child := n.Child(i); child != nil {
				children = append(children, child)
			}
		}
	}
	for _, child := range children {
		if err := encodeNode(enc, child); err != nil {
			return err
		}
	}

	if err := enc.EncodeToken(start.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeNode(enc *xml.Encoder, n node.Node) error {
	attr := func(name, value string) xml.Attr {
		return xml.Attr{Name: xml.Name{Local: name}, Value: value}
	}
	boolStr := func(b bool) string {
		if b {
			return "true"
		}
		return "false"
	}

	text, _ := n.Text()
	id, _ := n.ResourceID()
	desc, _ := n.Description()
	pkg, _ := n.PackageName()

	start := xml.StartElement{
		Name: xml.Name{Local: "node"},
		Attr: []xml.Attr{
			attr("text", text),
			attr("resource-id", id),
			attr("class", n.ClassName()),
			attr("package", pkg),
			attr("content-desc", desc),
			attr("clickable", boolStr(n.Clickable())),
			attr("displayed", boolStr(n.VisibleToUser())),
			attr("bounds", n.Bounds().String()),
		},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for i := 0; i < n.ChildCount(); i++ {
		if child := n.Child(i); child != nil {
			if err := encodeNode(enc, child); err != nil {
				return err
			}
		}
	}
	return enc.EncodeToken(start.End())
}
