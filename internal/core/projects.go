package core

import (
	"context"
	"time"

	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/project"
	"github.com/manivault/mvcore/sdk"
)

type boundDatasets interface {
	InputDataset() *sdk.Dataset
	OutputDataset() *sdk.Dataset
}

func (c *Core) sources() project.Sources {
	return project.Sources{Data: c.Data, Hierarchy: c.Hierarchy, Actions: c.Actions}
}

// Snapshot captures the current state as a project. The caller holds Do.
func (c *Core) Snapshot(name string) (*project.Project, error) {
	var records []project.PluginRecord
	for _, p := range c.Lifecycle.Plugins() {
		rec := project.PluginRecord{ID: p.ID(), Kind: p.Kind()}
		if b, ok := p.(boundDatasets); ok {
			if in := b.InputDataset(); in.Valid() {
				rec.Input = in.ID
			}
			if out := b.OutputDataset(); out.Valid() {
				rec.Output = out.ID
			}
		}
		records = append(records, rec)
	}
	return project.Capture(name, c.sources(), records)
}

// Restore replaces the current state with p. The caller holds Do.
// Plugin instances whose kind is not loaded are reported and skipped.
func (c *Core) Restore(ctx context.Context, p *project.Project) error {
	c.Reset()
	if err := p.Restore(c.sources()); err != nil {
		return c.Reporter.Report("projects", err)
	}

	for _, rec := range p.Plugins() {
		if !c.Registry.IsLoaded(rec.Kind) {
			c.Reporter.Report("projects", mverr.New(mverr.CodeNotFound,
				"project %s uses plugin %s which is not loaded", p.Name, rec.Kind))
			continue
		}
		meta, _ := c.Registry.Metadata(rec.Kind)
		if meta.Type == sdk.TypeView {
			if _, err := c.Lifecycle.RequestViewPlugin(ctx, rec.Kind, nil, DockCenter, c.datasetsByID(rec.Input)); err != nil {
				c.Logger.Warn("Failed to restore view", "kind", rec.Kind, "error", err)
			}
			continue
		}
		if _, err := c.Lifecycle.RequestPlugin(ctx, rec.Kind, c.datasetsByID(rec.Input), c.datasetsByID(rec.Output)); err != nil {
			c.Logger.Warn("Failed to restore plugin", "kind", rec.Kind, "error", err)
		}
	}

	c.current = p.Name
	c.Logger.Info("Project restored", "name", p.Name, "datasets", c.Data.Count(), "plugins", c.Lifecycle.Count())
	return nil
}

func (c *Core) datasetsByID(id string) []*sdk.Dataset {
	if id == "" {
		return nil
	}
	d, err := c.Data.Dataset(id)
	if err != nil {
		return nil
	}
	return []*sdk.Dataset{d}
}

// CurrentProject returns the name of the last saved or loaded project
func (c *Core) CurrentProject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SaveProject snapshots the core and stores it under name
func (c *Core) SaveProject(ctx context.Context, name, title, description string) (*project.Project, error) {
	if c.Projects == nil {
		return nil, mverr.New(mverr.CodeInvalidArgument, "project store is not configured")
	}
	var p *project.Project
	err := c.Do(ctx, func() error {
		var err error
		p, err = c.Snapshot(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Title = title
	p.Description = description
	if existing, err := c.Projects.Get(ctx, name); err == nil {
		p.CreatedAt = existing.CreatedAt
		if title == "" {
			p.Title = existing.Title
		}
		if description == "" {
			p.Description = existing.Description
		}
	}
	if err := c.Projects.Save(ctx, p); err != nil {
		return nil, c.Reporter.Report("projects", err)
	}

	c.mu.Lock()
	c.current = name
	c.mu.Unlock()
	return p, nil
}

// LoadProject replaces the current state with the stored project name
func (c *Core) LoadProject(ctx context.Context, name string) (*project.Project, error) {
	if c.Projects == nil {
		return nil, mverr.New(mverr.CodeInvalidArgument, "project store is not configured")
	}
	p, err := c.Projects.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.Do(ctx, func() error { return c.Restore(ctx, p) }); err != nil {
		return nil, err
	}
	return p, nil
}

// autosave saves the current project, if there is one
func (c *Core) autosave(ctx context.Context) error {
	name := c.CurrentProject()
	if name == "" {
		return nil
	}
	_, err := c.SaveProject(ctx, name, "", "")
	return err
}

func (c *Core) startAutosave(ctx context.Context) {
	minutes := c.Config.Projects.AutosaveMinutes
	if c.Projects == nil || minutes <= 0 {
		return
	}
	c.autosaver = project.NewAutosaver(time.Duration(minutes)*time.Minute, c.autosave, c.Logger)
	c.autosaver.Start(ctx)
}
