package audio

// DefaultChunkSize is the outbound chunk size in bytes. It is a multiple of
// three so every chunk base64-encodes to exactly 4096 characters with no
// padding, and even so PCM16 samples never straddle two chunks.
const DefaultChunkSize = 3072

// Split cuts payload into consecutive slices of at most size bytes. The last
// slice may be shorter. The returned slices alias payload. Split returns nil
// for an empty payload and panics if size is not positive.
func Split(payload []byte, size int) [][]byte {
	if size <= 0 {
		panic("audio: chunk size must be positive")
	}
	if len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for start := 0; start < len(payload); start += size {
		end := min(start+size, len(payload))
		chunks = append(chunks, payload[start:end:end])
	}
	return chunks
}

// Reassemble concatenates chunks in order. It is the inverse of [Split].
func Reassemble(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
