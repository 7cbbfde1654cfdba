// Package project saves and restores the state of the core: raw data,
// the dataset hierarchy and the public actions.
package project

import (
	"fmt"
	"regexp"
	"time"

	"github.com/manivault/mvcore/internal/actions"
	"github.com/manivault/mvcore/internal/data"
	"github.com/manivault/mvcore/internal/hierarchy"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// FormatVersion is written into every project body
const FormatVersion = 1

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Project is a named snapshot of the core
type Project struct {
	Name         string      `json:"name"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description,omitempty"`
	Body         variant.Map `json:"body"`
	DatasetCount int         `json:"dataset_count"`
	PluginCount  int         `json:"plugin_count"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Summary is a project without its body, as listed by a Store
type Summary struct {
	Name         string    `json:"name"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	DatasetCount int       `json:"dataset_count"`
	PluginCount  int       `json:"plugin_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PluginRecord is a plugin instance as it is saved in a project
type PluginRecord struct {
	ID     string
	Kind   string
	Input  string
	Output string
}

// Sources are the components a project is captured from and restored into
type Sources struct {
	Data      *data.Manager
	Hierarchy *hierarchy.Manager
	Actions   *actions.Manager
}

// ValidateName checks that name can be used as a project key and file name
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return mverr.New(mverr.CodeInvalidArgument, "invalid project name %q", name)
	}
	return nil
}

// Capture snapshots src into a new project named name
func Capture(name string, src Sources, plugins []PluginRecord) (*Project, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	records := make([]variant.Map, 0, len(plugins))
	for _, p := range plugins {
		records = append(records, variant.Map{
			"ID":     p.ID,
			"Kind":   p.Kind,
			"Input":  p.Input,
			"Output": p.Output,
		})
	}

	body, err := variant.Normalize(variant.Map{
		"Version":   FormatVersion,
		"Data":      src.Data.ToVariantMap(),
		"Hierarchy": src.Hierarchy.ToVariantMap(),
		"Actions":   src.Actions.ToVariantMap(),
		"Plugins":   records,
	})
	if err != nil {
		return nil, mverr.Wrap(mverr.CodeInternal, err, "failed to serialize project %s", name)
	}

	now := time.Now()
	return &Project{
		Name:         name,
		Body:         body,
		DatasetCount: src.Data.Count(),
		PluginCount:  len(plugins),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Restore loads the project body into src. The components are expected to
// be empty. Raw data goes first so restored datasets can reference it.
func (p *Project) Restore(src Sources) error {
	if p.Body == nil {
		return mverr.New(mverr.CodeInvalidArgument, "project %s has no body", p.Name)
	}
	if v := variant.Int(p.Body, "Version", 0); v > FormatVersion {
		return mverr.New(mverr.CodeInvalidArgument, "project %s has unsupported format version %d", p.Name, v)
	}

	if err := src.Data.FromVariantMap(variant.Sub(p.Body, "Data")); err != nil {
		return fmt.Errorf("failed to restore data: %w", err)
	}
	if hm := variant.Sub(p.Body, "Hierarchy"); hm != nil {
		if err := src.Hierarchy.FromVariantMap(hm); err != nil {
			return fmt.Errorf("failed to restore hierarchy: %w", err)
		}
	}
	if err := src.Actions.FromVariantMap(variant.Sub(p.Body, "Actions")); err != nil {
		return fmt.Errorf("failed to restore actions: %w", err)
	}
	return nil
}

// Plugins returns the plugin instances recorded in the project
func (p *Project) Plugins() []PluginRecord {
	var out []PluginRecord
	for _, m := range variant.Maps(p.Body, "Plugins") {
		kind := variant.String(m, "Kind", "")
		if kind == "" {
			continue
		}
		out = append(out, PluginRecord{
			ID:     variant.String(m, "ID", ""),
			Kind:   kind,
			Input:  variant.String(m, "Input", ""),
			Output: variant.String(m, "Output", ""),
		})
	}
	return out
}

// Summary returns p without its body
func (p *Project) Summary() Summary {
	return Summary{
		Name:         p.Name,
		Title:        p.Title,
		Description:  p.Description,
		DatasetCount: p.DatasetCount,
		PluginCount:  p.PluginCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
