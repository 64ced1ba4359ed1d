// Package source loads the list of outlets to check.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/outletwatch/internal/model"
)

var (
	// ErrNoOutlets is returned when a source yields no outlets.
	ErrNoOutlets = errors.New("no outlets to check")

	// ErrInvalidOutlet is returned for rows that cannot become an outlet.
	ErrInvalidOutlet = errors.New("invalid outlet")
)

// Source supplies the ordered list of outlets for one batch.
type Source interface {
	Load(ctx context.Context) ([]model.Outlet, error)
}

// FileSource reads outlets from a CSV or YAML file. The format is chosen by
// extension: .yaml and .yml are YAML, anything else is CSV.
type FileSource struct {
	Path string
}

// Compile-time interface satisfaction check.
var _ Source = (*FileSource)(nil)

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) ([]model.Outlet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open outlets file: %w", err)
	}
	defer f.Close()

	var outlets []model.Outlet
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		outlets, err = ParseYAML(f)
	default:
		outlets, err = ParseCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return outlets, nil
}

// ParseCSV reads outlets from CSV with an outlet_name,username,password header.
// Header names are matched case-insensitively and column order is free.
func ParseCSV(r io.Reader) ([]model.Outlet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoOutlets
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{"outlet_name": -1, "username": -1, "password": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	for name, i := range cols {
		if i < 0 {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var outlets []model.Outlet
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if blank(rec) {
			continue
		}
		outlets = append(outlets, model.Outlet{
			ID:       strings.TrimSpace(rec[cols["outlet_name"]]),
			Username: strings.TrimSpace(rec[cols["username"]]),
			Password: rec[cols["password"]],
		})
	}
	return outlets, Validate(outlets)
}

type yamlFile struct {
	Outlets []model.Outlet `yaml:"outlets"`
}

// ParseYAML reads outlets from a document with an "outlets" list.
func ParseYAML(r io.Reader) ([]model.Outlet, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	for i := range doc.Outlets {
		doc.Outlets[i].ID = strings.TrimSpace(doc.Outlets[i].ID)
		doc.Outlets[i].Username = strings.TrimSpace(doc.Outlets[i].Username)
	}
	return doc.Outlets, Validate(doc.Outlets)
}

// Validate rejects empty lists, blank outlet names and duplicate outlet names.
func Validate(outlets []model.Outlet) error {
	if len(outlets) == 0 {
		return ErrNoOutlets
	}
	seen := make(map[string]int, len(outlets))
	for i, o := range outlets {
		if o.ID == "" {
			return fmt.Errorf("%w: entry %d has no outlet name", ErrInvalidOutlet, i+1)
		}
		if prev, ok := seen[o.ID]; ok {
			return fmt.Errorf("%w: %q appears at entries %d and %d", ErrInvalidOutlet, o.ID, prev+1, i+1)
		}
		seen[o.ID] = i
	}
	return nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
