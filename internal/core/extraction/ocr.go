package extraction

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCREngine recognizes text from a single page image. The interface keeps
// the extractor testable without a Tesseract install.
type OCREngine interface {
	Recognize(imagePath string, dpi int, firstPages bool) (string, error)
}

// TesseractEngine runs OCR through a local Tesseract install.
type TesseractEngine struct {
	languages []string
}

var _ OCREngine = (*TesseractEngine)(nil)

// NewTesseractEngine takes languages in Tesseract notation, e.g. "hin+eng".
func NewTesseractEngine(languages string) *TesseractEngine {
	langs := strings.Split(languages, "+")
	if len(langs) == 0 || langs[0] == "" {
		langs = []string{"eng"}
	}
	return &TesseractEngine{languages: langs}
}

// Recognize OCRs one image. Early pages use single-block segmentation,
// which handles cover pages and letterheads better than full auto layout.
func (t *TesseractEngine) Recognize(imagePath string, dpi int, firstPages bool) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(dpi)); err != nil {
		return "", fmt.Errorf("set ocr dpi: %w", err)
	}
	mode := gosseract.PSM_AUTO
	if firstPages {
		mode = gosseract.PSM_SINGLE_BLOCK
	}
	if err := client.SetPageSegMode(mode); err != nil {
		return "", fmt.Errorf("set ocr segmentation mode: %w", err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set ocr image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr recognize: %w", err)
	}
	return text, nil
}
