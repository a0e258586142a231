// Package protocol defines the JSON events exchanged over a participant's
// duplex session channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event types.
const (
	TypeJoinSession   = "geova.join_session"
	TypeStudentMsg    = "student.message"
	TypeStartSpeaking = "student.start_speaking"
	TypeStopSpeaking  = "student.stop_speaking"
	TypeAudioChunk    = "student.audio_chunk"
	TypeEndUtterance  = "student.end_utterance"
)

// Outbound event types.
const (
	TypeSessionJoined        = "session.joined"
	TypeParticipantJoined    = "session.participant_joined"
	TypeParticipantLeft      = "session.participant_left"
	TypeSessionEnded         = "session.ended"
	TypeTextDelta            = "response.text.delta"
	TypeAudioDelta           = "response.audio.delta"
	TypeAudioDone            = "response.audio.done"
	TypeTranscription        = "transcription.result"
	TypeSpeakingStarted      = "student.speaking_started"
	TypeSpeakingStopped      = "student.speaking_stopped"
	TypeAvatarInitialized    = "avatar.initialized"
	TypeAvatarUpdate         = "avatar.update"
	TypeWhiteboardAnnotation = "whiteboard.annotation"
	TypeError                = "error"
)

// Inbound is the flat shape of every client event. Only the fields relevant
// to Type are populated.
type Inbound struct {
	Type string `json:"type"`

	// geova.join_session
	SessionID string          `json:"sessionId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`

	// student.message
	Message    string `json:"message,omitempty"`
	IsQuestion bool   `json:"isQuestion,omitempty"`
	HandRaised bool   `json:"handRaised,omitempty"`

	// student.audio_chunk
	AudioChunk string `json:"audioChunk,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Decode parses one inbound frame. A frame without a type is an error.
func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("protocol: decode: missing event type")
	}
	return in, nil
}

// Event is one outbound message. Payload fields are flattened next to "type"
// on the wire.
type Event struct {
	Type    string
	Payload any
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if e.Payload != nil {
		body, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", e.Type, err)
		}
		if len(body) < 2 || body[0] != '{' {
			return nil, fmt.Errorf("protocol: encode %s: payload is not an object", e.Type)
		}
		if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
			buf.WriteByte(',')
			buf.Write(inner)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Participant describes a session member to its peers.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Point is a whiteboard coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Annotation is a whiteboard instruction. A "draw" annotation carries
// Points; a "pointer" annotation carries its position as top-level x/y.
type Annotation struct {
	Type   string  `json:"type"`
	Points []Point `json:"points,omitempty"`
	*Point
	Color   string `json:"color"`
	Width   int    `json:"width,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionJoined acknowledges a join.
func SessionJoined(sessionID string, participantCount int) Event {
	return Event{TypeSessionJoined, struct {
		SessionID        string `json:"sessionId"`
		ParticipantCount int    `json:"participantCount"`
	}{sessionID, participantCount}}
}

// ParticipantJoined tells peers that p joined.
func ParticipantJoined(p Participant) Event {
	return Event{TypeParticipantJoined, struct {
		Participant Participant `json:"participant"`
	}{p}}
}

// ParticipantLeft tells peers that participantID disconnected.
func ParticipantLeft(participantID string) Event {
	return Event{TypeParticipantLeft, struct {
		ParticipantID string `json:"participantId"`
	}{participantID}}
}

// SessionEnded is sent to every connection before a session is torn down.
func SessionEnded(sessionID string) Event {
	return Event{TypeSessionEnded, struct {
		SessionID string `json:"sessionId"`
	}{sessionID}}
}

// TextDelta carries mentor text.
func TextDelta(text string) Event {
	return Event{TypeTextDelta, struct {
		Delta string `json:"delta"`
	}{text}}
}

// AudioDelta carries one base64-encoded audio chunk. Seq starts at 0.
func AudioDelta(b64 string, seq int) Event {
	return Event{TypeAudioDelta, struct {
		Delta string `json:"delta"`
		Seq   int    `json:"seq"`
	}{b64, seq}}
}

// AudioFormat describes the reassembled payload so the client can add the
// container header raw codecs need.
type AudioFormat struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Chunks     int    `json:"chunks"`
}

// AudioDone terminates an audio chunk sequence.
func AudioDone(f AudioFormat) Event {
	return Event{TypeAudioDone, f}
}

// Transcription returns a transcript to the speaker.
func Transcription(text string) Event {
	return Event{TypeTranscription, struct {
		Text string `json:"text"`
	}{text}}
}

// SpeakingStarted acknowledges student.start_speaking.
func SpeakingStarted() Event { return Event{Type: TypeSpeakingStarted} }

// SpeakingStopped acknowledges student.stop_speaking.
func SpeakingStopped() Event { return Event{Type: TypeSpeakingStopped} }

// AvatarInitialized announces that the avatar is ready.
func AvatarInitialized(avatarID, message string) Event {
	return Event{TypeAvatarInitialized, struct {
		AvatarID string `json:"avatarId"`
		Message  string `json:"message"`
	}{avatarID, message}}
}

// AvatarUpdate drives the avatar's expression and gesture.
func AvatarUpdate(expression, gesture string) Event {
	return Event{TypeAvatarUpdate, struct {
		Expression string `json:"expression"`
		Gesture    string `json:"gesture"`
	}{expression, gesture}}
}

// WhiteboardAnnotation carries one drawing instruction.
func WhiteboardAnnotation(a Annotation) Event {
	return Event{TypeWhiteboardAnnotation, struct {
		Annotation Annotation `json:"annotation"`
	}{a}}
}

// Error reports a failure to the client. The connection stays open.
func Error(message string) Event {
	return Event{TypeError, struct {
		Message string `json:"message"`
	}{message}}
}
