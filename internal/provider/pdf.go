package provider

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/ocr"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

var pdfMagic = []byte("%PDF-")

// PDFDirect extracts the text layer of a PDF with a local extractor.
// Remote PDFs are downloaded to a temp file first.
type PDFDirect struct {
	client    *fetcher.HTTPFetcher
	extractor ocr.Extractor
}

// NewPDFDirect creates the pdf_direct provider. The fetcher's MaxBytes caps
// the download size.
func NewPDFDirect(f *fetcher.HTTPFetcher, extractor ocr.Extractor) *PDFDirect {
	return &PDFDirect{client: f, extractor: extractor}
}

func (p *PDFDirect) Name() string                    { return PDFDirectName }
func (p *PDFDirect) SourceType() model.SourceType    { return model.SourcePDF }
func (p *PDFDirect) Supports(identifier string) bool { return model.IsPDF(identifier) }

func (p *PDFDirect) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	pdfPath := req.Identifier
	title := path.Base(req.Identifier)

	if model.IsRemote(req.Identifier) {
		tmp, err := p.download(ctx, req.Identifier)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp) //nolint:errcheck
		pdfPath = tmp
	} else {
		pdfPath = expandHome(pdfPath)
		title = filepath.Base(pdfPath)
		if err := checkFile(pdfPath); err != nil {
			return nil, err
		}
	}

	text, err := p.extractor.ExtractText(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Scanned documents have no text layer; OCR providers handle them.
		return nil, resilience.Malformed("no text layer in %s", title)
	}

	zap.L().Debug("pdf_direct: extracted", zap.String("identifier", req.Identifier), zap.Int("chars", len(text)))
	return &model.Content{
		Title:    strings.TrimSuffix(title, filepath.Ext(title)),
		Body:     text,
		URL:      req.Identifier,
		Metadata: map[string]string{"extractor": "pdftotext"},
	}, nil
}

func (p *PDFDirect) download(ctx context.Context, pdfURL string) (string, error) {
	resp, err := p.client.Get(ctx, pdfURL, map[string]string{"Accept": "application/pdf"})
	if err != nil {
		return "", err
	}
	if !bytes.HasPrefix(resp.Body, pdfMagic) {
		return "", resilience.Malformed("%s is not a PDF", pdfURL)
	}

	f, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "pdf: create temp file")
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write(resp.Body); err != nil {
		os.Remove(f.Name()) //nolint:errcheck
		return "", eris.Wrap(err, "pdf: write temp file")
	}
	return f.Name(), nil
}

// MistralOCR runs remote PDFs through Mistral's OCR model.
type MistralOCR struct {
	ocr ocr.URLExtractor
}

// NewMistralOCR creates the mistral_ocr provider.
func NewMistralOCR(extractor ocr.URLExtractor) *MistralOCR {
	return &MistralOCR{ocr: extractor}
}

func (p *MistralOCR) Name() string                 { return MistralOCRName }
func (p *MistralOCR) SourceType() model.SourceType { return model.SourcePDF }

// Supports accepts remote PDF URLs only.
func (p *MistralOCR) Supports(identifier string) bool {
	return model.IsRemote(identifier) && model.IsPDF(identifier)
}

func (p *MistralOCR) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	text, err := p.ocr.ExtractURL(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, resilience.Malformed("ocr returned no text for %s", req.Identifier)
	}
	title := path.Base(req.Identifier)
	return &model.Content{
		Title:    strings.TrimSuffix(title, path.Ext(title)),
		Body:     text,
		URL:      req.Identifier,
		Metadata: map[string]string{"extractor": "mistral_ocr"},
	}, nil
}

// checkFile reports a missing path as NotFound and a directory as Malformed.
func checkFile(p string) error {
	info, err := os.Stat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return resilience.NotFound("no such file: %s", p)
	case errors.Is(err, fs.ErrPermission):
		return resilience.Errorf(resilience.KindUnauthorized, "permission denied: %s", p)
	case err != nil:
		return resilience.NewError(resilience.KindMalformed, eris.Wrapf(err, "stat %s", p))
	case info.IsDir():
		return resilience.Malformed("%s is a directory", p)
	}
	return nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
