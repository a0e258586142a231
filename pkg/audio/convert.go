package audio

import (
	"encoding/binary"
	"fmt"
)

// Samples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// PCM encodes samples as little-endian 16-bit PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ToMonoPCM16 turns interleaved 16-bit PCM with any channel count into mono
// at dstRate. Channels are averaged first, then the single channel is
// resampled linearly.
func ToMonoPCM16(pcm []byte, srcRate, channels, dstRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm16 payload has odd length %d", len(pcm))
	}
	if channels < 1 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	mono := Downmix(Samples(pcm), channels)
	return PCM(Resample(mono, srcRate, dstRate)), nil
}

// Downmix averages each frame of interleaved samples into one sample. A
// partial trailing frame is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation.
// Equal or non-positive rates return the input.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		next := min(j+1, last)
		frac := pos - float64(j)
		out[i] = int16(float64(samples[j])*(1-frac) + float64(samples[next])*frac)
	}
	return out
}
