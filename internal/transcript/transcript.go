// Package transcript holds the multi-modal conversation sent to the model
// and bounds how many screenshots it carries.
package transcript

import "encoding/base64"

// Role of a turn's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates Block contents.
type BlockKind int

const (
	TextBlock BlockKind = iota
	ImageBlock
)

// Block is one piece of turn content.
type Block struct {
	Kind      BlockKind
	Text      string
	Image     []byte
	MediaType string
}

// Text returns a text block.
func Text(s string) Block {
	return Block{Kind: TextBlock, Text: s}
}

// PNG returns an image block holding a PNG screenshot.
func PNG(data []byte) Block {
	return Block{Kind: ImageBlock, Image: data, MediaType: "image/png"}
}

// Base64 returns the image payload base64-encoded.
func (b Block) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Image)
}

// DataURL returns the image as a data: URL.
func (b Block) DataURL() string {
	return "data:" + b.MediaType + ";base64," + b.Base64()
}

// Turn is one message of the conversation.
type Turn struct {
	Role   Role
	Blocks []Block
	Index  int
}

// Images counts image blocks in the turn.
func (t Turn) Images() int {
	n := 0
	for _, b := range t.Blocks {
		if b.Kind == ImageBlock {
			n++
		}
	}
	return n
}

// TextContent joins the turn's text blocks with newlines.
func (t Turn) TextContent() string {
	s := ""
	for _, b := range t.Blocks {
		if b.Kind != TextBlock {
			continue
		}
		if s != "" {
			s += "\n"
		}
		s += b.Text
	}
	return s
}

// Transcript is an append-only sequence of turns owned by one task.
type Transcript struct {
	turns []Turn
	next  int
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds a turn and returns it with its sequence index.
func (t *Transcript) Append(role Role, blocks ...Block) Turn {
	turn := Turn{Role: role, Blocks: blocks, Index: t.next}
	t.next++
	t.turns = append(t.turns, turn)
	return turn
}

// Turns returns the turns in order. The slice is shared with the
// transcript.
func (t *Transcript) Turns() []Turn {
	return t.turns
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Last returns the most recent turn.
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Images counts image blocks across the transcript.
func (t *Transcript) Images() int {
	n := 0
	for _, turn := range t.turns {
		n += turn.Images()
	}
	return n
}

// Clip drops all but the k most recent images in place.
func (t *Transcript) Clip(k int) {
	t.turns = Clip(t.turns, k)
}

// Clip returns turns with at most k image blocks left, removing the oldest
// first. A leading system turn keeps its images and is not counted against
// k. Text blocks, block order and turn order are untouched, and turns left
// empty are kept. The input is not modified.
func Clip(turns []Turn, k int) []Turn {
	if k < 0 {
		k = 0
	}
	out := make([]Turn, len(turns))
	copy(out, turns)

	first := 0
	if len(out) > 0 && out[0].Role == RoleSystem {
		first = 1
	}

	kept := 0
	for i := len(out) - 1; i >= first; i-- {
		if out[i].Images() == 0 {
			continue
		}
		blocks := make([]Block, 0, len(out[i].Blocks))
		// Walk backwards so the newest image in a turn wins.
		keep := make([]bool, len(out[i].Blocks))
		for j := len(out[i].Blocks) - 1; j >= 0; j-- {
			b := out[i].Blocks[j]
			if b.Kind != ImageBlock {
				keep[j] = true
				continue
			}
			if kept < k {
				keep[j] = true
				kept++
			}
		}
		for j, b := range out[i].Blocks {
			if keep[j] {
				blocks = append(blocks, b)
			}
		}
		out[i].Blocks = blocks
	}
	return out
}
