package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/record"
)

// LadderExporter uploads ladder exports under <prefix>/<symbol>/<name>.
type LadderExporter struct {
	w      domain.BlobWriter
	r      domain.BlobReader
	prefix string
	symbol string
}

// NewLadderExporter creates an exporter writing through w and listing
// through r.
func NewLadderExporter(w domain.BlobWriter, r domain.BlobReader, prefix, symbol string) *LadderExporter {
	return &LadderExporter{w: w, r: r, prefix: strings.Trim(prefix, "/"), symbol: symbol}
}

// Prefix returns the key prefix exports for this symbol are stored under,
// with a trailing slash.
func (e *LadderExporter) Prefix() string {
	return path.Join(e.prefix, e.symbol) + "/"
}

// Key returns the object key for an export named name.
func (e *LadderExporter) Key(name string) string {
	return path.Join(e.prefix, e.symbol, name)
}

// Export uploads data as a JSON object.
func (e *LadderExporter) Export(ctx context.Context, name string, data []byte) error {
	return e.w.Put(ctx, e.Key(name), bytes.NewReader(data), "application/json")
}

// ListExports returns the uploaded exports for the symbol, newest name first.
func (e *LadderExporter) ListExports(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := e.r.List(ctx, e.Prefix())
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	return infos, nil
}

// OpenExport downloads the export called name.
func (e *LadderExporter) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	if !record.ValidExportName(name) {
		return nil, fmt.Errorf("s3blob: open export %q: %w", name, domain.ErrNotFound)
	}
	return e.r.Get(ctx, e.Key(name))
}
