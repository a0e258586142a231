package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/stt"
	"github.com/geova/livementor/pkg/provider/stt/whisper"
)

type received struct {
	filename   string
	sampleRate uint32
	language   string
}

// newMockServer responds to POST /inference with responseText and reports
// what it was sent.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, got chan<- received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 22); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		rec := received{filename: hdr.Filename, language: r.FormValue("language")}
		if len(data) >= 28 && string(data[0:4]) == "RIFF" {
			rec.sampleRate = binary.LittleEndian.Uint32(data[24:28])
		}
		if got != nil {
			got <- rec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine at the given rate, well above the
// silence threshold.
func makeSpeechPCM(samples, rate int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_WAVIsResampledTo16k(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	got := make(chan received, 1)
	srv := newMockServer(t, " What is NDVI? ", &calls, got)

	p, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wav := audio.EncodeWAV(makeSpeechPCM(48000, 48000), 48000, 1)
	tr, err := p.Transcribe(context.Background(), stt.Clip{Data: wav, Format: audio.Format{Codec: audio.CodecWAV}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "What is NDVI?" {
		t.Errorf("text: got %q (should be trimmed)", tr.Text)
	}
	rec := <-got
	if rec.sampleRate != 16000 {
		t.Errorf("uploaded sample rate: got %d, want 16000", rec.sampleRate)
	}
	if rec.language != "en" {
		t.Errorf("language: got %q, want en", rec.language)
	}
}

func TestTranscribe_SilenceSkipsServer(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "should not be called", &calls, nil)

	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), stt.Clip{
		Data:   make([]byte, 3200),
		Format: audio.PCM16(16000, 1),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("text: got %q, want empty", tr.Text)
	}
	if calls.Load() != 0 {
		t.Errorf("server calls: got %d, want 0", calls.Load())
	}
}

func TestTranscribe_CompressedPassesThrough(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	got := make(chan received, 1)
	srv := newMockServer(t, "hello", &calls, got)

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))
	if _, err := p.Transcribe(context.Background(), stt.Clip{
		Data:   []byte("webm-bytes"),
		Format: audio.Format{Codec: audio.CodecWebM},
	}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	rec := <-got
	if rec.filename != "audio.webm" {
		t.Errorf("filename: got %q, want audio.webm", rec.filename)
	}
	if rec.language != "de" {
		t.Errorf("language: got %q, want de", rec.language)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Clip{Data: []byte("x"), Format: audio.Format{Codec: audio.CodecWebM}})
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestTranscribe_PCMWithoutFormat(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	_, err := p.Transcribe(context.Background(), stt.Clip{Data: []byte{1, 2}, Format: audio.Format{Codec: audio.CodecPCM16}})
	if err == nil {
		t.Fatal("expected error for PCM clip without sample rate")
	}
}
