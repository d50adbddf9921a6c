package extraction

import (
	"fmt"
	"regexp"
	"strings"
)

// Thresholds are the tuning knobs of the OCR decision and merge logic.
// Defaults come from field experience with bilingual government PDFs.
type Thresholds struct {
	LowText            int     // below this per-page char count, OCR
	AggressivePage     int     // force OCR below this per-page char count
	ImageHeavyDoc      int     // below this total native count, OCR every page
	GarbledRatio       float64 // non-ASCII chars outside Devanagari
	Latin1Ratio        float64 // chars in U+0080-U+00FF
	HeaderLatin1Ratio  float64 // stricter Latin-1 bound for the first two pages
	GarbledPatterns    int     // count of known mojibake glyphs
	MinDevanagari      float64 // non-ASCII present but Devanagari below this
	OCRReplaceRatio    float64 // replace native when OCR yield reaches this share
	KeepNativeLen      int     // native above this with few garbled glyphs is kept
	KeepNativeGarbled  int
	MinLineLen         int     // noise filter
	MaxNonAlnumRatio   float64 // noise filter
	ShortLineThreshold int     // paragraph merge
	MinValidTextLen    int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LowText:            100,
		AggressivePage:     300,
		ImageHeavyDoc:      5000,
		GarbledRatio:       0.30,
		Latin1Ratio:        0.20,
		HeaderLatin1Ratio:  0.10,
		GarbledPatterns:    5,
		MinDevanagari:      0.05,
		OCRReplaceRatio:    0.8,
		KeepNativeLen:      500,
		KeepNativeGarbled:  2,
		MinLineLen:         10,
		MaxNonAlnumRatio:   0.80,
		ShortLineThreshold: 40,
		MinValidTextLen:    500,
	}
}

const (
	devanagariStart = 0x0900
	devanagariEnd   = 0x097F
	latin1Start     = 0x80
	latin1End       = 0xFF
)

// Glyphs typical of font-encoding mismatch in Indian government PDFs.
var garbledPatternRe = regexp.MustCompile("[Éº¤£ª´®ÒàÆãɪ]")

// GarbledRatio is the fraction of non-ASCII characters outside the
// Devanagari block. High values signal mojibake.
func GarbledRatio(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	nonASCII, garbled := 0, 0
	for _, r := range text {
		if r > 127 {
			nonASCII++
			if r < devanagariStart || r > devanagariEnd {
				garbled++
			}
		}
	}
	if nonASCII == 0 {
		return 0
	}
	return float64(garbled) / float64(nonASCII)
}

// Latin1SupplementRatio is the fraction of characters in U+0080-U+00FF,
// typical when UTF-8 was decoded as Latin-1.
func Latin1SupplementRatio(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	n, total := 0, 0
	for _, r := range text {
		total++
		if r >= latin1Start && r <= latin1End {
			n++
		}
	}
	return float64(n) / float64(total)
}

// DevanagariRatio is the fraction of characters in the Devanagari block.
func DevanagariRatio(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	n, total := 0, 0
	for _, r := range text {
		total++
		if r >= devanagariStart && r <= devanagariEnd {
			n++
		}
	}
	return float64(n) / float64(total)
}

// CountGarbledPatterns counts known mojibake glyph occurrences.
func CountGarbledPatterns(text string) int {
	return len(garbledPatternRe.FindAllString(text, -1))
}

// PageStats are the per-page measurements the OCR decision is made from,
// computed once so the decision itself is a pure function.
type PageStats struct {
	Index           int
	TrimmedLen      int
	GarbledRatio    float64
	Latin1Ratio     float64
	DevanagariRatio float64
	GarbledPatterns int
	HasNonASCII     bool
	HasImages       bool
}

func StatsForPage(text string, index int, hasImages bool) PageStats {
	stripped := strings.TrimSpace(text)
	hasNonASCII := false
	for _, r := range stripped {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}
	return PageStats{
		Index:           index,
		TrimmedLen:      len([]rune(stripped)),
		GarbledRatio:    GarbledRatio(stripped),
		Latin1Ratio:     Latin1SupplementRatio(stripped),
		DevanagariRatio: DevanagariRatio(stripped),
		GarbledPatterns: CountGarbledPatterns(stripped),
		HasNonASCII:     hasNonASCII,
		HasImages:       hasImages,
	}
}

// DecideOCR reports whether a page should be OCRed, with a confidence in
// (0, 1] proportional to how many independent signals agree.
func DecideOCR(s PageStats, docImageHeavy bool, th Thresholds) (bool, float64) {
	signals := []bool{
		docImageHeavy,
		s.TrimmedLen < th.AggressivePage,
		s.HasImages,
		s.TrimmedLen < th.LowText,
		s.GarbledRatio >= th.GarbledRatio,
		s.Latin1Ratio >= th.Latin1Ratio,
		s.Index < 2 && s.Latin1Ratio >= th.HeaderLatin1Ratio,
		s.GarbledPatterns > th.GarbledPatterns,
		s.HasNonASCII && s.DevanagariRatio < th.MinDevanagari,
	}
	fired := 0
	for _, sig := range signals {
		if sig {
			fired++
		}
	}
	if fired == 0 {
		return false, 1.0
	}
	return true, float64(fired) / float64(len(signals))
}

// MergeOCR combines native and OCR text for one page: replace when native
// is thin or OCR yielded comparably much, keep clean long native text, and
// append OCR as a supplement otherwise.
func MergeOCR(native, ocr string, pageNum int, th Thresholds) string {
	if strings.TrimSpace(ocr) == "" {
		return native
	}
	nativeLen := len([]rune(strings.TrimSpace(native)))
	ocrLen := len([]rune(ocr))

	switch {
	case nativeLen < th.LowText:
		return ocr
	case nativeLen > th.KeepNativeLen && CountGarbledPatterns(native) <= th.KeepNativeGarbled:
		return native
	case float64(ocrLen) >= float64(nativeLen)*th.OCRReplaceRatio:
		return ocr
	default:
		return fmt.Sprintf("%s\n\n[OCR: page %d]\n%s", native, pageNum, ocr)
	}
}
