package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	formatPCM     = 1
)

// ErrNotWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE payload")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAVE payload holding 16-bit PCM and returns the
// sample data and its format. Unknown chunks between "fmt " and "data" are
// skipped.
func DecodeWAV(b []byte) ([]byte, Format, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(b) {
			return nil, Format{}, fmt.Errorf("audio: wav chunk %q overruns payload", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			if tag := binary.LittleEndian.Uint16(b[body : body+2]); tag != formatPCM {
				return nil, Format{}, fmt.Errorf("audio: unsupported wav format tag %d", tag)
			}
			if bps := binary.LittleEndian.Uint16(b[body+14 : body+16]); bps != bitsPerSample {
				return nil, Format{}, fmt.Errorf("audio: unsupported bits per sample %d", bps)
			}
			f = PCM16(
				int(binary.LittleEndian.Uint32(b[body+4:body+8])),
				int(binary.LittleEndian.Uint16(b[body+2:body+4])),
			)
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: wav data chunk precedes fmt chunk")
			}
			return b[body : body+size], f, nil
		}

		pos = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: wav payload has no data chunk")
}
