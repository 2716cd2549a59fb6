package provider

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

const defaultDocumentMax = 20 << 20

func isFTP(identifier string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(identifier)), "ftp://")
}

func isXLSX(identifier string) bool {
	return strings.EqualFold(filepath.Ext(identifier), ".xlsx")
}

func textContent(name, identifier string, data []byte) (*model.Content, error) {
	if !utf8.Valid(data) {
		return nil, resilience.Malformed("%s is not UTF-8 text", name)
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return nil, resilience.Malformed("%s is empty", name)
	}
	return &model.Content{
		Title: firstNonEmpty(markdownTitle(body), name),
		Body:  body,
		URL:   identifier,
	}, nil
}

// LocalFile reads UTF-8 text files from disk.
type LocalFile struct {
	maxBytes int64
}

// NewLocalFile creates the local_file provider. Files larger than maxBytes
// are rejected; zero means 20 MiB.
func NewLocalFile(maxBytes int64) *LocalFile {
	if maxBytes <= 0 {
		maxBytes = defaultDocumentMax
	}
	return &LocalFile{maxBytes: maxBytes}
}

func (p *LocalFile) Name() string                 { return LocalFileName }
func (p *LocalFile) SourceType() model.SourceType { return model.SourceDocument }

// Supports accepts local paths other than spreadsheets.
func (p *LocalFile) Supports(identifier string) bool {
	return !model.IsRemote(identifier) && !isFTP(identifier) && !isXLSX(identifier)
}

func (p *LocalFile) Fetch(_ context.Context, req model.FetchRequest) (*model.Content, error) {
	name := expandHome(strings.TrimSpace(req.Identifier))
	if err := checkFile(name); err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, eris.Wrapf(err, "open %s", name))
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, p.maxBytes+1))
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, eris.Wrapf(err, "read %s", name))
	}
	if int64(len(data)) > p.maxBytes {
		return nil, resilience.Malformed("%s exceeds %d bytes", name, p.maxBytes)
	}
	return textContent(filepath.Base(name), req.Identifier, data)
}

// XLSX renders local spreadsheets as tab-separated text.
type XLSX struct{}

// NewXLSX creates the xlsx provider.
func NewXLSX() *XLSX { return &XLSX{} }

func (p *XLSX) Name() string                 { return XLSXName }
func (p *XLSX) SourceType() model.SourceType { return model.SourceDocument }

// Supports accepts local .xlsx paths.
func (p *XLSX) Supports(identifier string) bool {
	return isXLSX(identifier) && !model.IsRemote(identifier) && !isFTP(identifier)
}

// Fetch reads every sheet, or only the one named by the "sheet" option.
func (p *XLSX) Fetch(_ context.Context, req model.FetchRequest) (*model.Content, error) {
	name := expandHome(strings.TrimSpace(req.Identifier))
	if err := checkFile(name); err != nil {
		return nil, err
	}
	sheets, err := fetcher.ReadWorkbook(name, fetcher.XLSXOptions{SheetName: req.Option("sheet", "")})
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, err)
	}
	return workbookContent(filepath.Base(name), req.Identifier, sheets)
}

// renderSheets writes each sheet under a heading with tab-separated rows.
func renderSheets(sheets []fetcher.Sheet) string {
	var b strings.Builder
	for i, s := range sheets {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Name)
		b.WriteString("\n")
		for _, row := range s.Rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func workbookContent(name, identifier string, sheets []fetcher.Sheet) (*model.Content, error) {
	body := renderSheets(sheets)
	if body == "" {
		return nil, resilience.Malformed("%s has no sheets", name)
	}
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = s.Name
	}
	return &model.Content{
		Title:    strings.TrimSuffix(name, filepath.Ext(name)),
		Body:     body,
		URL:      identifier,
		Metadata: map[string]string{"sheets": strings.Join(names, ",")},
	}, nil
}

// Downloader retrieves a file by URL.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// FTP downloads text documents and spreadsheets from FTP servers.
type FTP struct {
	client   Downloader
	maxBytes int64
}

// NewFTP creates the ftp provider. Zero maxBytes means 20 MiB.
func NewFTP(client Downloader, maxBytes int64) *FTP {
	if maxBytes <= 0 {
		maxBytes = defaultDocumentMax
	}
	return &FTP{client: client, maxBytes: maxBytes}
}

func (p *FTP) Name() string                    { return FTPName }
func (p *FTP) SourceType() model.SourceType    { return model.SourceDocument }
func (p *FTP) Supports(identifier string) bool { return isFTP(identifier) }

func (p *FTP) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	rc, err := p.client.Download(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, p.maxBytes+1))
	if err != nil {
		return nil, resilience.NewError(resilience.Classify(err), eris.Wrap(err, "ftp: read"))
	}
	if int64(len(data)) > p.maxBytes {
		return nil, resilience.Malformed("%s exceeds %d bytes", req.Identifier, p.maxBytes)
	}

	name := path.Base(req.Identifier)
	if isXLSX(name) {
		sheets, err := fetcher.ReadWorkbookBytes(data, fetcher.XLSXOptions{SheetName: req.Option("sheet", "")})
		if err != nil {
			return nil, resilience.NewError(resilience.KindMalformed, err)
		}
		return workbookContent(name, req.Identifier, sheets)
	}
	return textContent(name, req.Identifier, data)
}
