package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
)

// HybridExtractor pulls native text per page and falls back to OCR where
// the page is image-based or the text layer is mojibake. Works without an
// OCR engine, in which case garbled pages keep their native text.
type HybridExtractor struct {
	th            Thresholds
	ocr           OCREngine
	dpi           int
	dpiImageHeavy int
	log           *zap.SugaredLogger
}

var _ core.DocumentExtractor = (*HybridExtractor)(nil)

func NewHybridExtractor(th Thresholds, ocr OCREngine, dpi, dpiImageHeavy int, log *zap.SugaredLogger) *HybridExtractor {
	return &HybridExtractor{
		th:            th,
		ocr:           ocr,
		dpi:           dpi,
		dpiImageHeavy: dpiImageHeavy,
		log:           log,
	}
}

// PageCount reports the page total of a PDF without extracting anything,
// so intake limits can be enforced before any extraction work is spent.
func PageCount(pdfPath string) (int, error) {
	return api.PageCountFile(pdfPath)
}

func (e *HybridExtractor) Extract(ctx context.Context, pdfPath string) core.ExtractionResult {
	if _, err := os.Stat(pdfPath); err != nil {
		return invalidResult(0, "PDF file not found.")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return invalidResult(0, fmt.Sprintf("PDF could not be read: %v", err))
	}
	if pageCount == 0 {
		return invalidResult(0, "PDF has no pages.")
	}

	workDir, err := os.MkdirTemp("", "examsetu-extract-*")
	if err != nil {
		return invalidResult(pageCount, fmt.Sprintf("could not create work directory: %v", err))
	}
	defer os.RemoveAll(workDir)

	pagePaths, err := e.splitPages(pdfPath, workDir, pageCount, conf)
	if err != nil {
		e.log.Warnw("pdf split failed, extracting whole document", "error", err)
		return e.extractWhole(pdfPath, pageCount)
	}

	natives := make([]string, len(pagePaths))
	totalNative := 0
	for i, p := range pagePaths {
		natives[i] = nativeText(p)
		totalNative += len([]rune(strings.TrimSpace(natives[i])))
	}
	imageHeavy := totalNative < e.th.ImageHeavyDoc
	dpi := e.dpi
	if imageHeavy {
		dpi = e.dpiImageHeavy
	}

	var pages []string
	ocrPages := 0
	for i, pagePath := range pagePaths {
		if ctx.Err() != nil {
			return invalidResult(pageCount, "extraction cancelled")
		}

		text := Preprocess(FixMojibake(natives[i]))
		images := e.pageImages(pagePath, workDir, i, conf)

		force, confidence := DecideOCR(StatsForPage(text, i, len(images) > 0), imageHeavy, e.th)
		if force && e.ocr != nil && len(images) > 0 {
			ocrText := e.recognizePage(images, dpi, i < 2)
			if ocrText != "" {
				merged := MergeOCR(text, ocrText, i+1, e.th)
				if merged != text {
					ocrPages++
				}
				text = merged
			}
		} else if force {
			e.log.Debugw("ocr wanted but unavailable", "page", i+1, "confidence", confidence)
		}

		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	final := FinalClean(strings.Join(pages, "\n\n"), e.th)
	if len([]rune(final)) < e.th.MinValidTextLen {
		return core.ExtractionResult{
			Text:         final,
			PageCount:    pageCount,
			OCRPages:     ocrPages,
			IsValid:      false,
			ErrorMessage: "No text could be extracted from this PDF. It may be image-only, corrupted, or contain no readable text.",
		}
	}
	return core.ExtractionResult{
		Text:      final,
		PageCount: pageCount,
		OCRPages:  ocrPages,
		IsValid:   true,
	}
}

// splitPages writes one PDF per page into workDir and returns the paths
// in page order.
func (e *HybridExtractor) splitPages(pdfPath, workDir string, pageCount int, conf *model.Configuration) ([]string, error) {
	if err := api.SplitFile(pdfPath, workDir, 1, conf); err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	paths := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		p := filepath.Join(workDir, fmt.Sprintf("%s_%d.pdf", base, i))
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("split page %d missing: %w", i, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// pageImages extracts embedded images from one page PDF. Extraction
// failure or an image-free page both yield nil.
func (e *HybridExtractor) pageImages(pagePath, workDir string, pageIndex int, conf *model.Configuration) []string {
	imgDir := filepath.Join(workDir, fmt.Sprintf("img_%d", pageIndex))
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return nil
	}
	if err := api.ExtractImagesFile(pagePath, imgDir, nil, conf); err != nil {
		e.log.Debugw("image extraction failed", "page", pageIndex+1, "error", err)
		return nil
	}
	entries, err := os.ReadDir(imgDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(imgDir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths
}

// recognizePage OCRs every image on the page and cleans the combined
// output with the noise filter.
func (e *HybridExtractor) recognizePage(images []string, dpi int, firstPages bool) string {
	var parts []string
	for _, img := range images {
		text, err := e.ocr.Recognize(img, dpi, firstPages)
		if err != nil {
			e.log.Warnw("ocr failed", "image", filepath.Base(img), "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return FilterNoiseLines(Preprocess(strings.Join(parts, "\n")), e.th)
}

// extractWhole is the degraded path when per-page splitting fails.
func (e *HybridExtractor) extractWhole(pdfPath string, pageCount int) core.ExtractionResult {
	text := FinalClean(Preprocess(FixMojibake(nativeText(pdfPath))), e.th)
	if len([]rune(text)) < e.th.MinValidTextLen {
		return core.ExtractionResult{
			Text:         text,
			PageCount:    pageCount,
			IsValid:      false,
			ErrorMessage: "No text could be extracted from this PDF. It may be image-only, corrupted, or contain no readable text.",
		}
	}
	return core.ExtractionResult{Text: text, PageCount: pageCount, IsValid: true}
}

func nativeText(path string) string {
	res, err := docconv.ConvertPath(path)
	if err != nil || res == nil {
		return ""
	}
	return res.Body
}

func invalidResult(pageCount int, msg string) core.ExtractionResult {
	return core.ExtractionResult{PageCount: pageCount, IsValid: false, ErrorMessage: msg}
}
