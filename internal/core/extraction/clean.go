package extraction

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Sequences produced when legacy Devanagari fonts (Krutidev family) are
// read through a Latin-1 text layer, mapped back to the intended words.
// Collected from Union Budget and ministry PDFs.
var devanagariMojibake = map[string]string{
	"ºÉiªÉàÉä´É VÉªÉiÉä": "सत्यं शिवं सुंदरं",
	"ºÉiªÉàÉä´É":          "सत्यं",
	"VɪÉiÉä":              "शिवं सुंदरं",
	"VÉªÉiÉä":             "शिवं सुंदरं",
	"{ÉE®´É®ÉÒ":           "फरवरी",
	"ÉÊ´VIkÉ àÉÆjÉÉãɪÉ": "वित्त मंत्रालय",
	"ÉÊ´VIkÉ":             "वित्त",
	"àÉÆjÉÉãɪÉ":          "मंत्रालय",
	"¤ÉVÉ]":               "बजट",
	"£ÉÉ®iÉ":              "भारत",
	"ºÉ®BÉEÉ®":            "सरकार",
	"ºÉÉ®":                 "सार",
	"BÉEÉ":                 "का",
	"VÉÉ®":                 "जार",
	"´ÉÉ":                  "क्ष",
	"nÚºÉÉ":                "राजकोषीय",
	"EòÉä´É":               "घाटा",
}

var mojibakeKeys = func() []string {
	keys := make([]string, 0, len(devanagariMojibake))
	for k := range devanagariMojibake {
		keys = append(keys, k)
	}
	// longest first so compound phrases win over their fragments
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// FixMojibake rewrites known garbled sequences back to Devanagari.
func FixMojibake(text string) string {
	if text == "" {
		return text
	}
	for _, k := range mojibakeKeys {
		if strings.Contains(text, k) {
			text = strings.ReplaceAll(text, k, devanagariMojibake[k])
		}
	}
	return text
}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// Preprocess normalizes one page of raw extractor output: NFC form,
// control characters stripped, horizontal whitespace collapsed, and
// paragraphs denoted by blank lines.
func Preprocess(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	text = spaceRunRe.ReplaceAllString(b.String(), " ")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	return strings.Join(kept, "\n\n")
}

// FilterNoiseLines drops lines too short or too symbol-heavy to carry
// content, and collapses consecutive duplicates.
func FilterNoiseLines(text string, th Thresholds) string {
	var out []string
	var prev string
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		runes := []rune(l)
		if len(runes) < th.MinLineLen {
			continue
		}
		alnum := 0
		for _, r := range runes {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				alnum++
			}
		}
		if float64(alnum)/float64(len(runes)) < 1-th.MaxNonAlnumRatio {
			continue
		}
		if l == prev {
			continue
		}
		out = append(out, l)
		prev = l
	}
	return strings.Join(out, "\n")
}

// MergeShortLines joins fragments shorter than the threshold onto the
// previous line, repairing hard-wrapped paragraphs.
func MergeShortLines(text string, th Thresholds) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		if len(out) > 0 && len([]rune(l)) < th.ShortLineThreshold {
			out[len(out)-1] = out[len(out)-1] + " " + l
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// FinalClean is the whole-document pass: repeated boilerplate lines such
// as headers and footers are dropped after their first occurrence, short
// fragments merged, noise filtered, and whitespace collapsed.
func FinalClean(text string, th Thresholds) string {
	seen := make(map[string]bool)
	var deduped []string
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" {
			deduped = append(deduped, "")
			continue
		}
		if seen[l] {
			continue
		}
		seen[l] = true
		deduped = append(deduped, l)
	}
	text = strings.Join(deduped, "\n")
	text = MergeShortLines(text, th)
	text = FilterNoiseLines(text, th)
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(text, " "))
}
