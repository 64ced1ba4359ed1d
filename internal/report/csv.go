package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVRenderer renders the report as comma-separated values.
type CSVRenderer struct{}

// Format implements Renderer.
func (CSVRenderer) Format() string { return "csv" }

// Render implements Renderer.
func (CSVRenderer) Render(r *Report) (Document, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return Document{}, fmt.Errorf("write header: %w", err)
	}
	for _, res := range r.Results {
		if err := w.Write([]string{res.OutletID, res.Status, res.Username, res.CheckedAt.Local().Format(TimeLayout)}); err != nil {
			return Document{}, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Document{}, fmt.Errorf("flush csv: %w", err)
	}
	return Document{
		Name:        fileName(r, "csv"),
		ContentType: "text/csv",
		Data:        buf.Bytes(),
	}, nil
}

// RendererFor returns the renderer for a configured format name.
func RendererFor(format string) (Renderer, error) {
	switch format {
	case "xlsx":
		return XLSXRenderer{}, nil
	case "csv":
		return CSVRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}
