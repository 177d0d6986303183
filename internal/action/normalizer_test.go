package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

func TestSplitReply(t *testing.T) {
	r := SplitReply("Thought: The search box is at the top.\nAction: click(point='<point>10 20</point>')")
	assert.Equal(t, "The search box is at the top.", r.Thought)
	assert.Equal(t, "click(point='<point>10 20</point>')", r.Action)

	r = SplitReply(`{"type":"click","x":1,"y":2}`)
	assert.Empty(t, r.Thought)
	assert.Equal(t, `{"type":"click","x":1,"y":2}`, r.Action)

	r = SplitReply("I should scroll first.\naction: scroll(direction='down')")
	assert.Equal(t, "I should scroll first.", r.Thought)
	assert.Equal(t, "scroll(direction='down')", r.Action)
}

func TestNormalizer_Parse(t *testing.T) {
	n := NewNormalizer(DefaultRegistry(coords.Pixel), "dsl", nil)

	p, err := n.Parse("Thought: open it\nAction: left_double(point='<point>3 4</point>')")
	require.NoError(t, err)
	assert.Equal(t, "dsl", p.Dialect)
	assert.Equal(t, "open it", p.Thought)
	assert.Equal(t, []Action{DoubleClick(3, 4)}, p.Actions)

	p, err = n.Parse("Action: pyautogui.write(message='abc')")
	require.NoError(t, err)
	assert.Equal(t, "legacy", p.Dialect)
	assert.Equal(t, []Action{TypeText("abc", true)}, p.Actions)
}

func TestNormalizer_PreferredFallback(t *testing.T) {
	n := NewNormalizer(DefaultRegistry(coords.Pixel), "record", nil)
	p, err := n.Parse("Here you go: {\"type\":\"screenshot\"}")
	require.NoError(t, err)
	assert.Equal(t, "record", p.Dialect)
	assert.Equal(t, []Action{Screenshot()}, p.Actions)
}

func TestNormalizer_Unparsable(t *testing.T) {
	n := NewNormalizer(DefaultRegistry(coords.Pixel), "", nil)

	for _, in := range []string{"", "Thought: hmm\nAction:", "I am not sure what to do."} {
		_, err := n.Parse(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, ErrUnparsable)
	}
}

func TestNormalizer_LogsUnknown(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewNormalizer(DefaultRegistry(coords.Pixel), "dsl", zap.New(core))

	p, err := n.Parse("Action: call_user()")
	require.NoError(t, err)
	require.Len(t, p.Actions, 1)
	assert.Equal(t, KindUnknown, p.Actions[0].Kind)

	entries := logs.FilterMessage("Unknown action type").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "call_user()", entries[0].ContextMap()["raw"])
}
