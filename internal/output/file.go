package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	h3mapper "github.com/mohammed-shakir/osm-poi-fetcher/internal/mapper/h3"
)

type Summarizer interface {
	Summarize(elements []model.Element) h3mapper.Summary
}

// FileSink writes the raw response, re-indented, under Dir.
type FileSink struct {
	Dir   string
	Cells Summarizer // optional; writes a .cells.json sidecar
}

func (f *FileSink) Name() string { return "file" }

// FileName is <country>_<type>_length_<n>.json with the country lower-cased.
func FileName(country, locationType string, n int) string {
	return fmt.Sprintf("%s_%s_length_%d.json",
		pathSafe(strings.ToLower(strings.TrimSpace(country))),
		pathSafe(locationType), n)
}

var pathReplacer = strings.NewReplacer("/", "-", `\`, "-", string(os.PathSeparator), "-")

func pathSafe(s string) string {
	return pathReplacer.Replace(s)
}

func (f *FileSink) Save(_ context.Context, ds model.Dataset) (string, error) {
	path := filepath.Join(f.Dir, FileName(ds.Country, ds.LocationType, ds.Result.Count()))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, ds.Result.Raw, "", "  "); err != nil {
		return "", fmt.Errorf("indent result: %w", err)
	}
	buf.WriteByte('\n')
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	if f.Cells != nil {
		b, err := json.MarshalIndent(f.Cells.Summarize(ds.Result.Elements), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal cell summary: %w", err)
		}
		side := strings.TrimSuffix(path, ".json") + ".cells.json"
		if err := os.WriteFile(side, append(b, '\n'), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", side, err)
		}
	}
	return path, nil
}
