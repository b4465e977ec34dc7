// Package pdf rasterises uploaded documents into page images.
package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

// DefaultDPI is the raster resolution used for analysis.
const DefaultDPI = 300

// Renderer implements domain.Renderer using go-fitz (MuPDF).
type Renderer struct {
	dpi    float64
	logger *observability.Logger
}

// NewRenderer creates a renderer producing PNG pages at dpi.
func NewRenderer(dpi float64, logger *observability.Logger) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{dpi: dpi, logger: logger.WithComponent("renderer")}
}

// Render returns one PNG per page, in document order, named
// {pagePrefix}_page_{n}.png with n starting at 1.
//
// A page that fails to render does not stop the others. In that case the
// successfully rendered pages are returned together with an error joining
// one *domain.PageRenderError per failed page; callers decide whether the
// partial set is usable.
func (r *Renderer) Render(ctx context.Context, data []byte, pagePrefix string) ([]domain.PageImage, error) {
	if len(data) == 0 {
		return nil, domain.CorruptDocumentError("document is empty", nil)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.CorruptDocumentError("failed to open document", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.CorruptDocumentError("document has no pages", nil)
	}

	scale := r.dpi / 72
	images := make([]domain.PageImage, 0, pageCount)
	var pageErrs []error

	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pageNum := i + 1
		png, err := doc.ImagePNG(i, r.dpi)
		if err != nil {
			r.logger.Warn().Err(err).Int("page", pageNum).Str("prefix", pagePrefix).Msg("Failed to render page")
			pageErrs = append(pageErrs, &domain.PageRenderError{Page: pageNum, Err: err})
			continue
		}

		img := domain.PageImage{
			PageNumber:  pageNum,
			Name:        fmt.Sprintf("%s_page_%d.png", pagePrefix, pageNum),
			ContentType: "image/png",
			Data:        png,
		}
		if bounds, err := doc.Bound(i); err == nil {
			img.Width = int(float64(bounds.Dx()) * scale)
			img.Height = int(float64(bounds.Dy()) * scale)
		}
		images = append(images, img)
	}

	r.logger.Debug().
		Str("prefix", pagePrefix).
		Int("pages", pageCount).
		Int("rendered", len(images)).
		Msg("Document rendered")

	if len(pageErrs) > 0 {
		return images, errors.Join(pageErrs...)
	}
	return images, nil
}
