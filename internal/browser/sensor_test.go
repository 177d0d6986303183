package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"
)

func axValue(s string) *proto.AccessibilityAXValue {
	return &proto.AccessibilityAXValue{Type: proto.AccessibilityAXValueTypeString, Value: gson.New(s)}
}

func TestFlattenAXTree(t *testing.T) {
	nodes := []*proto.AccessibilityAXNode{
		{NodeID: "1", Role: axValue("RootWebArea"), Name: axValue("Search"), ChildIDs: []proto.AccessibilityAXNodeID{"2", "4"}},
		{NodeID: "2", ParentID: "1", Ignored: true, ChildIDs: []proto.AccessibilityAXNodeID{"3"}},
		{NodeID: "3", ParentID: "2", Role: axValue("textbox"), Name: axValue("Query")},
		{NodeID: "4", ParentID: "1", Role: axValue("button"), Name: axValue("Go")},
	}

	got := flattenAXTree(nodes)
	assert.Equal(t, []AXNode{
		{Role: "RootWebArea", Name: "Search", Depth: 0},
		{Role: "textbox", Name: "Query", Depth: 1},
		{Role: "button", Name: "Go", Depth: 1},
	}, got)
}

func TestRenderAXTree(t *testing.T) {
	out := RenderAXTree([]AXNode{
		{Role: "RootWebArea", Name: "", Depth: 0},
		{Role: "generic", Name: "wrapper", Depth: 1},
		{Role: "link", Name: "  Sign\n in ", Depth: 1},
		{Role: "paragraph", Name: "", Depth: 1},
		{Role: "StaticText", Name: "Welcome", Depth: 2},
	})
	assert.Equal(t, "[RootWebArea] \n  [link] Sign in\n    [StaticText] Welcome", out)
}

func TestPageMap_Render(t *testing.T) {
	m := &PageMap{
		URL:   "https://example.com/",
		Title: "Example",
		Elements: []Element{
			{Type: "button", Text: "Submit", X: 10, Y: 20},
			{Type: "text", Placeholder: "Email", X: 30, Y: 40},
			{Type: "select", Name: "country", X: 50, Y: 60},
		},
	}
	assert.Equal(t, `Page: Example (https://example.com/)
[1] button "Submit" at (10,20)
[2] text "Email" at (30,40)
[3] select "country" at (50,60)`, m.Render())
}

func TestParseTextSensor(t *testing.T) {
	s, err := ParseTextSensor("")
	require.NoError(t, err)
	assert.Equal(t, SensorNone, s)

	s, err = ParseTextSensor("accessibility_tree")
	require.NoError(t, err)
	assert.Equal(t, SensorAXTree, s)

	_, err = ParseTextSensor("sonar")
	assert.Error(t, err)
}
