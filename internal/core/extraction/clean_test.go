package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixMojibake(t *testing.T) {
	assert.Equal(t, "बजट 2024-25", FixMojibake("¤ÉVÉ] 2024-25"))
	assert.Equal(t, "भारत सरकार", FixMojibake("£ÉÉ®iÉ ºÉ®BÉEÉ®"))
	assert.Equal(t, "सत्यं शिवं सुंदरं", FixMojibake("ºÉiªÉàÉä´É VÉªÉiÉä"))
	assert.Equal(t, "untouched english", FixMojibake("untouched english"))
	assert.Equal(t, "", FixMojibake(""))
}

func TestPreprocessStripsControlAndCollapsesWhitespace(t *testing.T) {
	in := "First\x00 line\x08 here\t\twith   tabs\n\n\n\n\nSecond paragraph"
	got := Preprocess(in)
	assert.Equal(t, "First line here with tabs\n\nSecond paragraph", got)
}

func TestPreprocessNormalizesToNFC(t *testing.T) {
	// e + combining acute composes to a single rune.
	got := Preprocess("café menu listing")
	assert.Equal(t, "café menu listing", got)
}

func TestFilterNoiseLines(t *testing.T) {
	th := DefaultThresholds()
	in := strings.Join([]string{
		"A perfectly reasonable content line.",
		"short",
		"$$$$%%%%@@@@####****",
		"A perfectly reasonable content line number two.",
		"A perfectly reasonable content line number two.",
	}, "\n")
	got := FilterNoiseLines(in, th)
	assert.Equal(t,
		"A perfectly reasonable content line.\nA perfectly reasonable content line number two.",
		got)
}

func TestMergeShortLines(t *testing.T) {
	th := DefaultThresholds()
	in := "This is the opening sentence of a hard-wrapped paragraph that\ncontinues here\nand here too.\nThis second line is long enough to stand alone as its own paragraph."
	got := MergeShortLines(in, th)
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t,
		"This is the opening sentence of a hard-wrapped paragraph that continues here and here too.",
		lines[0])
}

func TestFinalCleanDropsRepeatedBoilerplate(t *testing.T) {
	th := DefaultThresholds()
	header := "Ministry of Finance Government of India Annual Report"
	in := strings.Join([]string{
		header,
		"Chapter one discusses the fiscal framework in considerable detail.",
		header,
		"Chapter two turns to monetary policy and its transmission channels.",
		header,
	}, "\n")
	got := FinalClean(in, th)
	assert.Equal(t, 1, strings.Count(got, header))
	assert.Contains(t, got, "Chapter one discusses")
	assert.Contains(t, got, "Chapter two turns")
}

func TestFinalCleanEmptyInput(t *testing.T) {
	assert.Equal(t, "", FinalClean("   \n\n  ", DefaultThresholds()))
}
