// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"context"

	"condamirror/pkg/conda"

	"github.com/charmbracelet/log"
)

type (
	// Request selects the inventory source. InventoryFiles win over
	// SearchTerms, which win over the installed environment.
	Request struct {
		InventoryFiles   []string
		SearchTerms      []string
		Subdirs          []string
		Channels         []string
		OverrideChannels bool
	}

	// Provider resolves a Request into package records. Build one per
	// process and share it; it owns the installed-environment cache.
	Provider struct {
		runner    Runner
		installed *InstalledProvider
		logger    *log.Logger
	}

	// Option configures a Provider.
	Option func(*Provider)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// NewProvider creates a Provider running conda through runner.
func NewProvider(runner Runner, opts ...Option) (*Provider, error) {
	installed, err := NewInstalledProvider(runner)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		runner:    runner,
		installed: installed,
		logger:    log.Default().WithPrefix("inventory"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// condaOptions renders the channel selection as conda flags.
func (r Request) condaOptions() []string {
	var opts []string
	for _, ch := range r.Channels {
		opts = append(opts, "-c", ch)
	}
	if r.OverrideChannels {
		opts = append(opts, "--override-channels")
	}
	return opts
}

// Get returns the records selected by req.
func (p *Provider) Get(ctx context.Context, req Request) ([]conda.PackageRecord, error) {
	switch {
	case len(req.InventoryFiles) > 0:
		p.logger.Debug("reading inventory files", "files", req.InventoryFiles)
		return ReadFiles(req.InventoryFiles)
	case len(req.SearchTerms) > 0:
		p.logger.Debug("searching channels", "terms", req.SearchTerms, "subdirs", req.Subdirs)
		return p.search(ctx, req.SearchTerms, req.Subdirs, req.condaOptions())
	default:
		p.logger.Debug("listing installed packages")
		return p.installed.List(ctx, req.condaOptions())
	}
}
