package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/geova/livementor/pkg/audio"
	"github.com/geova/livementor/pkg/provider/stt"
)

type upload struct {
	model    string
	filename string
	header   []byte
}

func newFakeServer(t *testing.T, text string) (*httptest.Server, <-chan upload) {
	t.Helper()
	uploads := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		head := make([]byte, 4)
		_, _ = io.ReadFull(f, head)
		uploads <- upload{model: r.FormValue("model"), filename: hdr.Filename, header: head}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"`+text+`"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, uploads
}

func TestTranscribe_WebM(t *testing.T) {
	t.Parallel()
	srv, uploads := newFakeServer(t, "What is NDVI?")

	p, err := New("sk", "", WithRequestOptions(option.WithAPIKey("sk"), option.WithBaseURL(srv.URL+"/v1/")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Clip{
		Data:   []byte("\x1a\x45\xdf\xa3webm"),
		Format: audio.Format{Codec: audio.CodecWebM},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "What is NDVI?" {
		t.Errorf("text: got %q", tr.Text)
	}
	up := <-uploads
	if up.model != DefaultModel {
		t.Errorf("model: got %q, want %q", up.model, DefaultModel)
	}
	if up.filename != "audio.webm" {
		t.Errorf("filename: got %q, want audio.webm", up.filename)
	}
}

func TestTranscribe_PCMIsWrappedInWAV(t *testing.T) {
	t.Parallel()
	srv, uploads := newFakeServer(t, "hello")

	p, _ := New("sk", "", WithRequestOptions(option.WithAPIKey("sk"), option.WithBaseURL(srv.URL+"/v1/")))
	if _, err := p.Transcribe(context.Background(), stt.Clip{
		Data:   make([]byte, 320),
		Format: audio.PCM16(16000, 1),
	}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	up := <-uploads
	if string(up.header) != "RIFF" {
		t.Errorf("upload should start with RIFF, got %q", up.header)
	}
	if up.filename != "audio.wav" {
		t.Errorf("filename: got %q, want audio.wav", up.filename)
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	t.Parallel()
	p, _ := New("sk", "")
	if _, err := p.Transcribe(context.Background(), stt.Clip{}); !errors.Is(err, stt.ErrEmptyClip) {
		t.Errorf("got %v, want ErrEmptyClip", err)
	}
}
