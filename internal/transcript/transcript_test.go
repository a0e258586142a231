package transcript_test

import (
	"testing"

	"github.com/geova/livementor/internal/transcript"
)

func TestCorrect(t *testing.T) {
	t.Parallel()

	c := transcript.New(transcript.DefaultGlossary)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "casing", in: "how do I compute ndvi", want: "how do I compute NDVI"},
		{name: "split word", in: "I installed Q GIS yesterday", want: "I installed QGIS yesterday"},
		{name: "split word with punctuation", in: "Is post gis free?", want: "Is PostGIS free?"},
		{name: "multi word term", in: "open google earth engine.", want: "open Google Earth Engine."},
		{name: "phonetic near miss", in: "the sentinal images", want: "the Sentinel images"},
		{name: "leading punctuation kept", in: "(geo pandas)", want: "(GeoPandas)"},
		{name: "unrelated text untouched", in: "landscape analysis  with   friends", want: "landscape analysis  with   friends"},
		{name: "already canonical", in: "QGIS and Landsat", want: "QGIS and Landsat"},
		{name: "no match across clauses", in: "post, gis", want: "post, gis"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, _ := c.Correct(tt.in); got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrect_ReportsCorrections(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"NDVI", "QGIS"})
	got, corrections := c.Correct("q gis shows ndvi.")
	if got != "QGIS shows NDVI." {
		t.Fatalf("Correct = %q", got)
	}
	if len(corrections) != 2 {
		t.Fatalf("corrections = %+v, want 2", corrections)
	}
	if corrections[0].Original != "q gis" || corrections[0].Corrected != "QGIS" || corrections[0].Confidence != 1 {
		t.Errorf("corrections[0] = %+v", corrections[0])
	}
	if corrections[1].Original != "ndvi" || corrections[1].Corrected != "NDVI" {
		t.Errorf("corrections[1] = %+v", corrections[1])
	}
}

func TestCorrect_PluralIsNotFuzzed(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Sentinel"})
	if got, corrections := c.Correct("two sentinels"); got != "two sentinels" || corrections != nil {
		t.Errorf("Correct = %q, %+v", got, corrections)
	}
}

func TestNew_IgnoresBlankAndDuplicateTerms(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"", "  ", "QGIS", "qgis"})
	if got, _ := c.Correct("qgis"); got != "QGIS" {
		t.Errorf("Correct = %q, want first spelling", got)
	}
}

func TestCorrect_EmptyGlossary(t *testing.T) {
	t.Parallel()

	c := transcript.New(nil)
	if got, corrections := c.Correct("q gis"); got != "q gis" || corrections != nil {
		t.Errorf("Correct = %q, %+v", got, corrections)
	}
}
