package selector

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Spec is the declarative form of a Query, as written in YAML files and
// built from CLI flags. Pure data; Apply turns it into conditions.
type Spec struct {
	Text           string `yaml:"text"`
	TextContains   string `yaml:"textContains"`
	TextMatches    string `yaml:"textMatches"`
	TextStartsWith string `yaml:"textStartsWith"`
	TextTrim       bool   `yaml:"textTrim"`
	ClassName      string `yaml:"className"`
	ID             string `yaml:"id"`
	Package        string `yaml:"package"`
	Description    string `yaml:"description"`
	Clickable      *bool  `yaml:"clickable"`
	Visible        bool   `yaml:"visible"`
}

// specRaw is used for YAML parsing so "class" and "desc" shorthands work.
type specRaw struct {
	Text           string `yaml:"text"`
	TextContains   string `yaml:"textContains"`
	TextMatches    string `yaml:"textMatches"`
	TextStartsWith string `yaml:"textStartsWith"`
	TextTrim       bool   `yaml:"textTrim"`
	ClassName      string `yaml:"className"`
	Class          string `yaml:"class"`
	ID             string `yaml:"id"`
	Package        string `yaml:"package"`
	Pkg            string `yaml:"pkg"`
	Description    string `yaml:"description"`
	Desc           string `yaml:"desc"`
	Clickable      *bool  `yaml:"clickable"`
	Visible        bool   `yaml:"visible"`
}

// UnmarshalYAML allows Spec to be unmarshaled from string or struct.
// A plain string is shorthand for text.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Text = node.Value
		return nil
	}

	var raw specRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*s = Spec{
		Text:           raw.Text,
		TextContains:   raw.TextContains,
		TextMatches:    raw.TextMatches,
		TextStartsWith: raw.TextStartsWith,
		TextTrim:       raw.TextTrim,
		ClassName:      raw.ClassName,
		ID:             raw.ID,
		Package:        raw.Package,
		Description:    raw.Description,
		Clickable:      raw.Clickable,
		Visible:        raw.Visible,
	}
	if s.ClassName == "" {
		s.ClassName = raw.Class
	}
	if s.Package == "" {
		s.Package = raw.Pkg
	}
	if s.Description == "" {
		s.Description = raw.Desc
	}
	return nil
}

// ParseSpec decodes a YAML selector document.
func ParseSpec(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse selector: %w", err)
	}
	return s, nil
}

// Apply appends the spec's conditions to q. The only failure is an invalid
// textMatches pattern, in which case q is left unchanged.
func (s Spec) Apply(q *Query) error {
	var re *regexp.Regexp
	if s.TextMatches != "" {
		var err error
		if re, err = regexp.Compile(s.TextMatches); err != nil {
			return fmt.Errorf("textMatches %q: %w", s.TextMatches, err)
		}
	}

	if s.Text != "" {
		q.Text(s.Text)
	}
	if s.TextContains != "" {
		q.TextContains(s.TextContains)
	}
	if re != nil {
		q.TextMatches(re)
	}
	if s.TextStartsWith != "" {
		q.TextStartsWith(s.TextStartsWith)
	}
	if s.TextTrim {
		q.TextTrim()
	}
	if s.ClassName != "" {
		q.ClassName(s.ClassName)
	}
	if s.ID != "" {
		q.ID(s.ID)
	}
	if s.Package != "" {
		q.Package(s.Package)
	}
	if s.Description != "" {
		q.Description(s.Description)
	}
	if s.Clickable != nil {
		q.Clickable(*s.Clickable)
	}
	if s.Visible {
		q.Visible()
	}
	return nil
}

// IsEmpty returns true if no selector properties are set.
func (s Spec) IsEmpty() bool {
	return s.Text == "" &&
		s.TextContains == "" &&
		s.TextMatches == "" &&
		s.TextStartsWith == "" &&
		!s.TextTrim &&
		s.ClassName == "" &&
		s.ID == "" &&
		s.Package == "" &&
		s.Description == "" &&
		s.Clickable == nil &&
		!s.Visible
}

// Describe returns a short human-readable description.
func (s Spec) Describe() string {
	switch {
	case s.Text != "":
		return "text=\"" + s.Text + "\""
	case s.ID != "":
		return "id=\"" + s.ID + "\""
	case s.Description != "":
		return "desc=\"" + s.Description + "\""
	case s.TextContains != "":
		return "textContains=\"" + s.TextContains + "\""
	case s.ClassName != "":
		return "class=\"" + s.ClassName + "\""
	default:
		return ""
	}
}
