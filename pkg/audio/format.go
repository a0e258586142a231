// Package audio holds the codec-agnostic helpers the mentor uses to move
// speech around: payload chunking for streaming, the RIFF/WAV container for
// raw PCM, and simple PCM format conversion.
package audio

import "fmt"

// Codec names the encoding of an audio payload.
type Codec string

const (
	CodecMP3   Codec = "mp3"
	CodecPCM16 Codec = "pcm16" // signed 16-bit little-endian, headerless
	CodecWAV   Codec = "wav"
	CodecOpus  Codec = "opus"
	CodecWebM  Codec = "webm"
)

// Format describes an audio payload. SampleRate and Channels are only
// meaningful for PCM-family codecs; zero means "carried by the container".
type Format struct {
	Codec      Codec
	SampleRate int
	Channels   int
}

// PCM16 returns the format of headerless 16-bit PCM at the given rate.
func PCM16(sampleRate, channels int) Format {
	return Format{Codec: CodecPCM16, SampleRate: sampleRate, Channels: channels}
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f.SampleRate == 0 {
		return string(f.Codec)
	}
	return fmt.Sprintf("%s/%dHz/%dch", f.Codec, f.SampleRate, f.Channels)
}

// MIMEType returns the media type used when uploading a payload of this format.
func (f Format) MIMEType() string {
	switch f.Codec {
	case CodecMP3:
		return "audio/mpeg"
	case CodecWAV, CodecPCM16:
		return "audio/wav"
	case CodecOpus:
		return "audio/ogg"
	case CodecWebM:
		return "audio/webm"
	}
	return "application/octet-stream"
}

// CodecFromMIME maps a media type such as "audio/webm;codecs=opus" to a Codec.
// Unknown types map to the empty Codec.
func CodecFromMIME(mime string) Codec {
	for i := 0; i < len(mime); i++ {
		if mime[i] == ';' {
			mime = mime[:i]
			break
		}
	}
	switch mime {
	case "audio/mpeg", "audio/mp3":
		return CodecMP3
	case "audio/wav", "audio/wave", "audio/x-wav":
		return CodecWAV
	case "audio/ogg", "audio/opus":
		return CodecOpus
	case "audio/webm":
		return CodecWebM
	case "audio/pcm", "audio/l16":
		return CodecPCM16
	}
	return ""
}

// FileName returns a conventional upload file name for the codec, e.g.
// "audio.webm". Transcription APIs sniff the container from the extension.
func FileName(c Codec) string {
	switch c {
	case CodecPCM16:
		return "audio.wav"
	case "":
		return "audio.bin"
	case CodecOpus:
		return "audio.ogg"
	}
	return "audio." + string(c)
}
