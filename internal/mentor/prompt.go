// Package mentor assembles the language-model context for a tutoring turn
// and interprets the structured cues the model returns with its reply.
package mentor

import (
	"fmt"
	"strings"

	"github.com/geova/livementor/internal/session"
)

// FallbackReply is sent when the model returns no usable text.
const FallbackReply = "I apologize, but I'm having trouble formulating a response right now. Could you please rephrase your question?"

// Persona is the hot-reloadable part of the mentor's prompt.
type Persona struct {
	// Name is how the mentor introduces itself.
	Name string

	// ExtraInstructions is appended verbatim to the system prompt.
	ExtraInstructions string
}

const expertise = `Your expertise:
- GIS: QGIS, ArcGIS, PostGIS, GRASS GIS, GDAL/OGR
- Remote sensing: Sentinel, Landsat, MODIS, UAV imagery, hyperspectral analysis
- GeoAI: Random Forest, SVM, YOLO, UNet, Google Earth Engine
- Programming: Python (GeoPandas, Shapely, Rasterio), R (sf, terra), SQL (PostGIS)
- WebGIS: Leaflet, Mapbox, OpenLayers, GeoServer
- Analysis: spatial statistics, geostatistics, network and 3D analysis
- Applications: urban planning, agriculture, forestry, mining, disaster management`

const privateMode = `PRIVATE SESSION MODE:
- Focus entirely on this student's pace and career goals
- Give detailed, personalised explanations
- Ask probing questions to check understanding
- Offer immediate feedback and course corrections`

const groupMode = `GROUP SESSION MODE:
- Facilitate collaborative learning among several students
- Keep participation balanced and explanations useful to everyone
- Encourage peer learning and knowledge sharing
- Use interactive demonstrations and group exercises`

const style = `Communication style:
- Professional, approachable and encouraging
- Plain-language explanation first, technical detail second
- Step-by-step guidance with real-world examples
- Check understanding before moving on
- You are speaking live: keep replies conversational and reasonably short`

// SystemPrompt returns the system message for a session of type t.
func (p Persona) SystemPrompt(t session.Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (GEOspatial Virtual Assistant), an expert AI mentor for geospatial technology teaching in a live session.\n\n", p.name())
	b.WriteString(expertise)
	b.WriteString("\n\n")
	if t == session.TypePrivate {
		b.WriteString(privateMode)
	} else {
		b.WriteString(groupMode)
	}
	b.WriteString("\n\n")
	b.WriteString(style)
	b.WriteString("\n\n")
	b.WriteString(cueInstructions)
	if extra := strings.TrimSpace(p.ExtraInstructions); extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}

// GreetingPrompt returns the user message that opens a session.
func (p Persona) GreetingPrompt(t session.Type) string {
	mode := "group"
	if t == session.TypePrivate {
		mode = "private"
	}
	return fmt.Sprintf(`A student has just joined a %s mentoring session. Greet them as %s and find out:
1. Their current level with GIS and geospatial technology.
2. Their goals for today's session.
3. Any project or challenge they are working on.
Mention that you can help with anything from basic GIS concepts to spatial analysis, programming and career guidance, then ask what they would like to explore first.`, mode, p.name())
}

// TurnInstruction wraps a student utterance with guidance that depends on
// whether it is a question and whether the student raised their hand.
func TurnInstruction(message string, isQuestion, handRaised bool) string {
	var b strings.Builder
	b.WriteString("The student ")
	if handRaised {
		b.WriteString("has raised their hand and ")
	}
	fmt.Fprintf(&b, "said: %q\n\n", message)
	if isQuestion {
		b.WriteString("This is a direct question that needs a complete answer.")
	} else {
		b.WriteString("This is a comment or statement that may need acknowledgement or follow-up.")
	}
	b.WriteString(`

Respond so that you:
1. Address what they said directly
2. Give practical, actionable guidance
3. Use examples that fit their level
4. Suggest a hands-on activity or next step`)
	return b.String()
}

func (p Persona) name() string {
	if p.Name == "" {
		return "GEOVA"
	}
	return p.Name
}
