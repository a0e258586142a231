package mentor

import "github.com/geova/livementor/internal/protocol"

const (
	drawColor    = "#ef4444"
	drawWidth    = 3
	pointerColor = "#2563eb"
)

// WelcomeMessage is shown next to the welcome pointer.
const WelcomeMessage = "Welcome to GEOVA Live Session!"

// Annotation returns the whiteboard drawing for v. It reports false for
// [VisualNone].
func Annotation(v Visual) (protocol.Annotation, bool) {
	var pts []protocol.Point
	switch v {
	case VisualMap:
		// map outline
		pts = []protocol.Point{pt(100, 100), pt(200, 100), pt(200, 200), pt(100, 200), pt(100, 100)}
	case VisualChart:
		pts = []protocol.Point{pt(50, 200), pt(100, 150), pt(150, 100), pt(200, 120), pt(250, 80)}
	case VisualDiagram:
		// arrow
		pts = []protocol.Point{pt(100, 100), pt(200, 150), pt(180, 140), pt(200, 150), pt(180, 160)}
	default:
		return protocol.Annotation{}, false
	}
	return protocol.Annotation{Type: "draw", Points: pts, Color: drawColor, Width: drawWidth}, true
}

// WelcomePointer is drawn when a whiteboard-enabled participant joins.
func WelcomePointer() protocol.Annotation {
	return protocol.Annotation{
		Type:    "pointer",
		Point:   &protocol.Point{X: 960, Y: 100},
		Color:   pointerColor,
		Message: WelcomeMessage,
	}
}

func pt(x, y int) protocol.Point { return protocol.Point{X: x, Y: y} }
