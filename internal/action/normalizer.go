package action

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	actionMarker  = regexp.MustCompile(`(?im)^\s*action\s*:`)
	thoughtMarker = regexp.MustCompile(`(?im)^\s*thought\s*:`)
)

// Reply is a model reply split into its reasoning and action parts.
type Reply struct {
	Thought string
	Action  string
}

// SplitReply separates `Thought: ... Action: ...`. Without an Action marker
// the whole reply is treated as the action part.
func SplitReply(text string) Reply {
	locs := actionMarker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return Reply{Action: strings.TrimSpace(text)}
	}
	last := locs[len(locs)-1]
	thought := text[:last[0]]
	if loc := thoughtMarker.FindStringIndex(thought); loc != nil {
		thought = thought[loc[1]:]
	}
	return Reply{
		Thought: strings.TrimSpace(thought),
		Action:  strings.TrimSpace(text[last[1]:]),
	}
}

// Parsed is the outcome of normalising one model reply.
type Parsed struct {
	Thought string
	Dialect string
	Actions []Action
}

// Normalizer turns raw model replies into canonical actions.
type Normalizer struct {
	registry  *Registry
	preferred string
	logger    *zap.Logger
}

// NewNormalizer returns a normalizer trying the preferred dialect first and
// falling back to detection over the registry.
func NewNormalizer(registry *Registry, preferred string, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		registry:  registry,
		preferred: preferred,
		logger:    logger.With(zap.String("component", "normalizer")),
	}
}

// Parse splits the reply and decodes its action part. The error is always a
// *ParseError.
func (n *Normalizer) Parse(reply string) (Parsed, error) {
	parts := SplitReply(reply)
	out := Parsed{Thought: parts.Thought}
	if parts.Action == "" {
		return out, parseErr("", reply, "no action found in reply")
	}

	d := n.pick(parts.Action)
	if d == nil {
		return out, parseErr("", parts.Action, "unrecognised action syntax")
	}
	out.Dialect = d.Name()

	actions, err := d.Parse(parts.Action)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			return out, pe
		}
		return out, parseErr(d.Name(), parts.Action, "%v", err)
	}
	for _, a := range actions {
		if a.Kind == KindUnknown {
			n.logger.Warn("Unknown action type", zap.String("dialect", d.Name()), zap.String("raw", a.Raw))
		}
	}
	out.Actions = actions
	return out, nil
}

func (n *Normalizer) pick(text string) Dialect {
	var preferred Dialect
	if n.preferred != "" {
		if d, err := n.registry.Get(n.preferred); err == nil {
			preferred = d
			if d.Detect(text) {
				return d
			}
		}
	}
	if d, ok := n.registry.Detect(text); ok {
		return d
	}
	return preferred
}
