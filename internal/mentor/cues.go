package mentor

import (
	"encoding/json"
	"strings"
)

// Expression is the avatar's facial expression for a reply.
type Expression string

const (
	ExpressionExcited    Expression = "excited"
	ExpressionThoughtful Expression = "thoughtful"
	ExpressionConcerned  Expression = "concerned"
	ExpressionNeutral    Expression = "neutral"
)

// Gesture is the avatar's gesture for a reply.
type Gesture string

const (
	GesturePointing Gesture = "pointing"
	GestureEmphasis Gesture = "emphasis"
	GestureGreeting Gesture = "greeting"
	GestureNeutral  Gesture = "neutral"
)

// Visual selects a whiteboard drawing for a reply.
type Visual string

const (
	VisualNone    Visual = "none"
	VisualMap     Visual = "map"
	VisualChart   Visual = "chart"
	VisualDiagram Visual = "diagram"
)

// Cues is the structured signal the model attaches to every reply.
type Cues struct {
	Expression Expression `json:"expression"`
	Gesture    Gesture    `json:"gesture"`
	Visual     Visual     `json:"visual"`
}

// NeutralCues is used when a reply carries no valid trailer.
var NeutralCues = Cues{Expression: ExpressionNeutral, Gesture: GestureNeutral, Visual: VisualNone}

const (
	cueOpen  = "<<cues"
	cueClose = ">>"
)

const cueInstructions = `Always end your reply with exactly one final line of the form
<<cues {"expression":"E","gesture":"G","visual":"V"}>>
where E is one of excited, thoughtful, concerned, neutral; G is one of pointing, emphasis, greeting, neutral; and V is one of none, map, chart, diagram. Choose a visual other than none only when a whiteboard drawing would help the explanation. This line is removed before the student sees your reply.`

// ParseCues strips the cue trailer from reply and returns the remaining text
// and the decoded cues. A missing or malformed trailer yields [NeutralCues];
// an unknown value resets only that field.
func ParseCues(reply string) (string, Cues) {
	i := strings.LastIndex(reply, cueOpen)
	if i < 0 {
		return strings.TrimSpace(reply), NeutralCues
	}
	text := strings.TrimSpace(reply[:i])
	rest := reply[i+len(cueOpen):]
	j := strings.LastIndex(rest, cueClose)
	if j < 0 {
		return text, NeutralCues
	}

	var c Cues
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:j])), &c); err != nil {
		return text, NeutralCues
	}
	return text, c.normalize()
}

func (c Cues) normalize() Cues {
	switch c.Expression {
	case ExpressionExcited, ExpressionThoughtful, ExpressionConcerned, ExpressionNeutral:
	default:
		c.Expression = ExpressionNeutral
	}
	switch c.Gesture {
	case GesturePointing, GestureEmphasis, GestureGreeting, GestureNeutral:
	default:
		c.Gesture = GestureNeutral
	}
	switch c.Visual {
	case VisualNone, VisualMap, VisualChart, VisualDiagram:
	default:
		c.Visual = VisualNone
	}
	return c
}
