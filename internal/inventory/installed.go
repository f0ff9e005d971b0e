// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"condamirror/pkg/conda"

	lru "github.com/hashicorp/golang-lru/v2"
)

// installedCacheSize bounds the number of distinct channel option sets kept.
const installedCacheSize = 16

// InstalledProvider lists the packages of the active environment. Results are
// memoized per channel options, so repeated calls do not re-run conda.
type InstalledProvider struct {
	runner Runner
	cache  *lru.Cache[string, []conda.PackageRecord]
	mu     sync.Mutex
}

// NewInstalledProvider creates a memoizing provider around runner.
func NewInstalledProvider(runner Runner) (*InstalledProvider, error) {
	cache, err := lru.New[string, []conda.PackageRecord](installedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating installed inventory cache: %w", err)
	}
	return &InstalledProvider{runner: runner, cache: cache}, nil
}

// List returns the installed records for the given conda options.
func (p *InstalledProvider) List(ctx context.Context, condaOptions []string) ([]conda.PackageRecord, error) {
	key := strings.Join(condaOptions, " ")

	// Held across the conda call so concurrent callers with the same key
	// run it once.
	p.mu.Lock()
	defer p.mu.Unlock()

	if recs, ok := p.cache.Get(key); ok {
		return slices.Clone(recs), nil
	}

	args := append([]string{"list", "--json"}, condaOptions...)
	stdout, code, err := p.runner.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("conda list exited with status %d", code)
	}
	recs, err := decodeList(stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding conda list output: %w", err)
	}
	p.cache.Add(key, recs)
	return slices.Clone(recs), nil
}
