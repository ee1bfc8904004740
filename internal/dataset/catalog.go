package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bdagent/internal/config"
)

// Driver names accepted in a Descriptor.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Descriptor describes one dataset table that a query tool is built around.
type Descriptor struct {
	Name        string
	Source      string
	Driver      string
	Path        string
	DSN         string
	Table       string
	Description string
}

// ToolName is the registry name of the query tool for this table.
func (d Descriptor) ToolName() string {
	return d.Table + "_db"
}

// Location is a printable storage location, never containing credentials.
func (d Descriptor) Location() string {
	if d.Driver == DriverPostgres {
		return "postgres:" + d.Table
	}
	return d.Path
}

type catalogFile struct {
	Datasets []config.DatasetConfig `yaml:"datasets"`
}

// LoadCatalog reads a YAML catalog of the form:
//
//	datasets:
//	  - name: hospitals
//	    table: hospitals
//	    path: hospitals.db
//	    description: ...
func LoadCatalog(path string) ([]config.DatasetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(cf.Datasets) == 0 {
		return nil, fmt.Errorf("catalog %s lists no datasets", path)
	}
	return cf.Datasets, nil
}

// Descriptors resolves the configured datasets into descriptors. A catalog
// file, when set, replaces the entries of the config file.
func Descriptors(cfg config.DatasetsConfig) ([]Descriptor, error) {
	entries := cfg.Entries
	if cfg.Catalog != "" {
		loaded, err := LoadCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}

	seen := make(map[string]bool, len(entries))
	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if e.Table == "" {
			return nil, fmt.Errorf("dataset %q: table is required", e.Name)
		}
		if seen[e.Table] {
			return nil, fmt.Errorf("dataset %q: duplicate table %q", e.Name, e.Table)
		}
		seen[e.Table] = true

		d := Descriptor{
			Name:        e.Name,
			Source:      e.Source,
			Driver:      e.Driver,
			Path:        e.Path,
			DSN:         e.DSN,
			Table:       e.Table,
			Description: e.Description,
		}
		if d.Name == "" {
			d.Name = d.Table
		}
		if d.Driver == "" {
			d.Driver = DriverSQLite
		}
		if d.Driver == DriverSQLite {
			if d.Path == "" {
				d.Path = d.Table + ".db"
			}
			if !filepath.IsAbs(d.Path) && cfg.Dir != "" {
				d.Path = filepath.Join(cfg.Dir, d.Path)
			}
		}
		out = append(out, d)
	}
	return out, nil
}
