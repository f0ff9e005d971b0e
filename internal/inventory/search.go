// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"condamirror/pkg/conda"
)

// searchEntry is one candidate in `conda search --json` output, which maps
// each package name to its candidates.
type searchEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Subdir  string `json:"subdir"`
	Fn      string `json:"fn"`
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

func (e searchEntry) String() string {
	return conda.DistName(e.Name, e.Version, e.Build) + " " + e.Channel
}

// baseURL strips "/{subdir}/{fn}" from the artifact URL path.
func (e searchEntry) baseURL() (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", fmt.Errorf("parsing artifact url %q: %w", e.URL, err)
	}
	u.Path = strings.ReplaceAll(u.Path, "/"+e.Subdir+"/"+e.Fn, "")
	u.RawPath = ""
	return u.String(), nil
}

// searchArgs builds one `conda search` invocation per subdir, or a single
// one when no subdir is given.
func searchArgs(term string, subdirs, condaOptions []string) [][]string {
	base := append([]string{"search", "--json"}, condaOptions...)
	if len(subdirs) == 0 {
		return [][]string{append(slices.Clone(base), term)}
	}
	out := make([][]string, 0, len(subdirs))
	for _, sd := range subdirs {
		args := append(slices.Clone(base), "--subdir", sd, term)
		out = append(out, args)
	}
	return out
}

// search resolves every (term, subdir) pair to at most one record. Queries
// that exit non-zero contribute nothing; a term resolving to several names
// or several matching builds is an AmbiguousSpecError.
func (p *Provider) search(ctx context.Context, terms, subdirs, condaOptions []string) ([]conda.PackageRecord, error) {
	var records []conda.PackageRecord
	for _, term := range terms {
		spec, err := conda.ParseSpec(term)
		if err != nil {
			return nil, err
		}
		for _, args := range searchArgs(term, subdirs, condaOptions) {
			rec, ok, err := p.searchOne(ctx, term, spec, args)
			if err != nil {
				return nil, err
			}
			if ok {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

func (p *Provider) searchOne(ctx context.Context, term string, spec conda.PackageSpec, args []string) (conda.PackageRecord, bool, error) {
	stdout, code, err := p.runner.Run(ctx, args...)
	if err != nil {
		return conda.PackageRecord{}, false, err
	}
	if code != 0 {
		p.logger.Debug("conda search found nothing", "term", term, "exit", code)
		return conda.PackageRecord{}, false, nil
	}

	var result map[string][]searchEntry
	if err := json.Unmarshal(stdout, &result); err != nil {
		return conda.PackageRecord{}, false, fmt.Errorf("decoding conda search output for %s: %w", term, err)
	}
	if len(result) > 1 {
		names := make([]string, 0, len(result))
		for name := range result {
			names = append(names, name)
		}
		slices.Sort(names)
		return conda.PackageRecord{}, false, &conda.AmbiguousSpecError{Spec: term, Candidates: names}
	}

	var matched []searchEntry
	for _, candidates := range result {
		for _, c := range candidates {
			r := conda.PackageRecord{Name: c.Name, Version: c.Version, Build: c.Build}
			if spec.Matches(r) {
				matched = append(matched, c)
			}
		}
	}
	switch len(matched) {
	case 0:
		return conda.PackageRecord{}, false, nil
	case 1:
	default:
		cands := make([]string, len(matched))
		for i, c := range matched {
			cands[i] = c.String()
		}
		return conda.PackageRecord{}, false, &conda.AmbiguousSpecError{Spec: term, Candidates: cands}
	}

	hit := matched[0]
	base, err := hit.baseURL()
	if err != nil {
		return conda.PackageRecord{}, false, err
	}
	rec := conda.NewRecord(hit.Name, hit.Version, hit.Build, conda.Platform(hit.Subdir), base)
	rec.URL = hit.URL
	return rec, true, nil
}
