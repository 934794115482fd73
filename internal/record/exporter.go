package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// Exporter stores an encoded ladder export under name.
type Exporter interface {
	Export(ctx context.Context, name string, data []byte) error
}

// FileExporter writes exports into a local directory.
type FileExporter struct {
	dir string
}

// NewFileExporter returns an exporter rooted at dir. The directory is created
// on first use.
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

func (e *FileExporter) Export(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("record: create export dir: %w", err)
	}
	path := filepath.Join(e.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("record: write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("record: finalize export: %w", err)
	}
	return nil
}

// ListExports returns the exports in the directory, newest name first. A
// missing directory yields no entries.
func (e *FileExporter) ListExports(_ context.Context) ([]domain.BlobInfo, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("record: list exports: %w", err)
	}
	var out []domain.BlobInfo
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.BlobInfo{
			Path:         filepath.Join(e.dir, ent.Name()),
			Size:         info.Size(),
			ContentType:  "application/json",
			LastModified: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path > out[j].Path })
	return out, nil
}

// OpenExport opens the export called name. Names that are not plain export
// file names are treated as missing.
func (e *FileExporter) OpenExport(_ context.Context, name string) (io.ReadCloser, error) {
	if !ValidExportName(name) {
		return nil, fmt.Errorf("record: open export %q: %w", name, domain.ErrNotFound)
	}
	f, err := os.Open(filepath.Join(e.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("record: open export %q: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("record: open export %q: %w", name, err)
	}
	return f, nil
}

// ValidExportName reports whether name is a bare .json file name.
func ValidExportName(name string) bool {
	return name != "" &&
		strings.HasSuffix(name, ".json") &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.HasPrefix(name, ".")
}

// MultiExporter sends each export to every wrapped exporter and joins their
// errors.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, name string, data []byte) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, name, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
