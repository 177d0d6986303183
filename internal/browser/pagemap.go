package browser

import (
	"fmt"
	"strings"
)

// PageMap represents the interactive outline of a web page
type PageMap struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
	IsSPA    bool      `json:"isSPA"`
}

// Element represents an interactive element on the page
type Element struct {
	Type        string `json:"type"` // button, input, link, select, checkbox, radio
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	X           int    `json:"x"` // Centre of the element in viewport pixels
	Y           int    `json:"y"`
}

// Render formats the map as one line per element for the model.
func (m *PageMap) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s (%s)\n", m.Title, m.URL)
	for i, el := range m.Elements {
		label := el.Text
		if label == "" {
			label = el.Placeholder
		}
		if label == "" {
			label = el.Name
		}
		fmt.Fprintf(&b, "[%d] %s %q at (%d,%d)\n", i+1, el.Type, label, el.X, el.Y)
	}
	return strings.TrimRight(b.String(), "\n")
}

// AXNode is the part of an accessibility node the tree rendering needs.
type AXNode struct {
	Role  string
	Name  string
	Depth int
}

// skippedRoles carry no information for the model on their own.
var skippedRoles = map[string]bool{
	"none":          true,
	"generic":       true,
	"InlineTextBox": true,
	"LineBreak":     true,
}

// RenderAXTree formats accessibility nodes as an indented outline, dropping
// unnamed structural nodes.
func RenderAXTree(nodes []AXNode) string {
	var b strings.Builder
	for _, n := range nodes {
		if skippedRoles[n.Role] {
			continue
		}
		name := strings.Join(strings.Fields(n.Name), " ")
		if name == "" && n.Role != "RootWebArea" {
			continue
		}
		b.WriteString(strings.Repeat("  ", n.Depth))
		fmt.Fprintf(&b, "[%s] %s\n", n.Role, name)
	}
	return strings.TrimRight(b.String(), "\n")
}
