// Package transcript corrects domain vocabulary in speech-to-text output.
//
// Transcription models regularly mangle GIS jargon: "Q GIS" for QGIS,
// "post GIS" for PostGIS, "sentinal" for Sentinel. A [Corrector] snaps such
// near-misses onto a glossary of canonical spellings before the text is shown
// to the student or sent to the mentor. It runs in-process and never calls a
// model.
//
// Matching happens in two stages. A window of tokens whose letters, with the
// spaces removed, equal a glossary term is replaced outright; this fixes split
// words and casing. Otherwise a single window is compared phonetically: its
// Double Metaphone codes must overlap the term's and its Jaro-Winkler
// similarity must reach the threshold.
//
// A Corrector is read-only after construction and safe for concurrent use.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.93

	// minFuzzyLen keeps short common words away from the phonetic stage.
	minFuzzyLen = 5

	// maxLenDelta bounds how much longer or shorter a fuzzy candidate may
	// be than the term it replaces.
	maxLenDelta = 1
)

// DefaultGlossary holds the terms the mentor teaches most often.
var DefaultGlossary = []string{
	"QGIS", "ArcGIS", "PostGIS", "GRASS GIS", "GDAL", "WebGIS", "GeoAI",
	"Sentinel", "Landsat", "MODIS", "LiDAR", "NDVI",
	"GeoPandas", "Shapely", "Rasterio", "GeoJSON",
	"Leaflet", "Mapbox", "OpenLayers", "GeoServer",
	"Google Earth Engine", "UNet",
}

// Correction is one substitution made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithThreshold sets the minimum Jaro-Winkler score for a phonetic match.
// Default: 0.93.
func WithThreshold(t float64) Option {
	return func(c *Corrector) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// Corrector replaces near-miss spellings of glossary terms.
type Corrector struct {
	terms     []term
	maxWords  int
	threshold float64
}

type term struct {
	canon string
	key   string
	words int
	codes map[string]struct{}
}

// New returns a Corrector for glossary. Blank and duplicate entries are
// ignored; the first spelling of a term wins.
func New(glossary []string, opts ...Option) *Corrector {
	c := &Corrector{threshold: defaultThreshold}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]bool, len(glossary))
	for _, g := range glossary {
		words := strings.Fields(g)
		key := strings.ToLower(strings.Join(words, ""))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.terms = append(c.terms, term{
			canon: strings.Join(words, " "),
			key:   key,
			words: len(words),
			codes: codes(key),
		})
		c.maxWords = max(c.maxWords, len(words))
	}
	return c
}

// Correct returns text with glossary near-misses replaced, and the list of
// replacements. Punctuation around a replaced span is kept.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		// A single-word term may be heard as two tokens.
		n := min(c.maxWords+1, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			w, ok := newWindow(tokens[i : i+n])
			if !ok {
				continue
			}
			t, conf, ok := c.match(w, n)
			if !ok {
				continue
			}
			out = append(out, w.lead+t.canon+w.trail)
			if w.text != t.canon {
				corrections = append(corrections, Correction{Original: w.text, Corrected: t.canon, Confidence: conf})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

func (c *Corrector) match(w window, n int) (term, float64, bool) {
	for _, t := range c.terms {
		if t.key == w.key && n <= t.words+1 {
			return t, 1, true
		}
	}

	if len(w.key) < minFuzzyLen {
		return term{}, 0, false
	}
	wc := codes(w.key)
	var (
		best  term
		score float64
	)
	for _, t := range c.terms {
		if n > t.words || abs(len(w.key)-len(t.key)) > maxLenDelta {
			continue
		}
		// Inflections such as plurals are left alone.
		if strings.HasPrefix(w.key, t.key) || strings.HasPrefix(t.key, w.key) {
			continue
		}
		if !overlap(wc, t.codes) {
			continue
		}
		if s := matchr.JaroWinkler(w.key, t.key, false); s >= c.threshold && s > score {
			best, score = t, s
		}
	}
	return best, score, score > 0
}

// window is a run of tokens with the surrounding punctuation split off.
type window struct {
	lead, trail string
	text        string
	key         string
}

// newWindow rejects runs with punctuation between their tokens, so a match
// never spans a sentence or clause boundary.
func newWindow(tokens []string) (window, bool) {
	words := make([]string, len(tokens))
	var w window
	for i, tok := range tokens {
		lead, core, trail := splitPunct(tok)
		if core == "" || (i > 0 && lead != "") || (i < len(tokens)-1 && trail != "") {
			return window{}, false
		}
		if i == 0 {
			w.lead = lead
		}
		if i == len(tokens)-1 {
			w.trail = trail
		}
		words[i] = core
	}
	w.text = strings.Join(words, " ")
	w.key = strings.ToLower(strings.Join(words, ""))
	return w, true
}

func splitPunct(tok string) (lead, core, trail string) {
	isPunct := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }
	core = strings.TrimLeftFunc(tok, isPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

func codes(s string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s2 := matchr.DoubleMetaphone(s)
	if p != "" {
		out[p] = struct{}{}
	}
	if s2 != "" {
		out[s2] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
