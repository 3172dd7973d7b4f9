package pdfgen

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Position is an anchor on the page (pdfcpu notation) plus a point offset.
type Position struct {
	Anchor string
	DX     int
	DY     int
}

// Renderer draws overlay marks onto PDF bytes. The pipeline depends on this
// interface so its logic can be exercised without a PDF engine.
type Renderer interface {
	// StampImage draws a PNG onto the first page at the given position,
	// scaled to scale times the image's own dimensions.
	StampImage(doc, png []byte, pos Position, scale float64) ([]byte, error)
	// StampText draws a single text line onto the first page.
	StampText(doc []byte, text string, pos Position, points int, color string) ([]byte, error)
	// StampDiagonal draws low-opacity diagonal text across every page.
	StampDiagonal(doc []byte, text string) ([]byte, error)
}

// PDFCPURenderer implements Renderer with pdfcpu stamps.
type PDFCPURenderer struct {
	conf *model.Configuration
}

func NewRenderer() *PDFCPURenderer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPURenderer{conf: conf}
}

func (r *PDFCPURenderer) StampImage(doc, png []byte, pos Position, scale float64) ([]byte, error) {
	desc := fmt.Sprintf("position:%s, offset:%d %d, scalefactor:%.2f abs, rotation:0, opacity:1",
		pos.Anchor, pos.DX, pos.DY, scale)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(png), desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("image stamp %q: %w", desc, err)
	}
	return r.apply(doc, []string{"1"}, wm)
}

func (r *PDFCPURenderer) StampText(doc []byte, text string, pos Position, points int, color string) ([]byte, error) {
	desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:%s, offset:%d %d, scalefactor:1 abs, rotation:0, fillcolor:%s, opacity:1",
		points, pos.Anchor, pos.DX, pos.DY, color)
	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("text stamp %q: %w", desc, err)
	}
	return r.apply(doc, []string{"1"}, wm)
}

func (r *PDFCPURenderer) StampDiagonal(doc []byte, text string) ([]byte, error) {
	desc := "fontname:Helvetica, points:64, fillcolor:#7A7A7A, opacity:0.3, diagonal:1, scalefactor:0.9 rel"
	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("diagonal stamp %q: %w", desc, err)
	}
	// nil selection means all pages.
	return r.apply(doc, nil, wm)
}

func (r *PDFCPURenderer) apply(doc []byte, pages []string, wm *model.Watermark) ([]byte, error) {
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(doc), &out, pages, wm, r.conf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
