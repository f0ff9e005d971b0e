// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"slices"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	InventoryUnreadableId
	CondaNotFoundId
	SpecNotFoundId
	AmbiguousSpecId
	PersistenceConflictId
	InvalidArchiveId
	DownloaderNotFoundId
	PublishFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // lookup key
	mdMsg    MarkdownMsg // rendered body
	docLinks []HttpLink
	extLinks []HttpLink // third-party references
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the guide as terminal Markdown using the glamour style at
// stylePath ("dark", "light", "notty" or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file exists but could not be parsed or validated.

## Things you can try:
- Print the resolved file location:
~~~
$ condamirror config path
~~~

- Regenerate a default file and compare:
~~~
$ condamirror config init --force
~~~

- Keys follow the CUE schema, for example:
~~~cue
output_dir: "packages"
archive:    true
if_exists:  "merge"
conda: channels: ["conda-forge"]
~~~`,
		extLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	inventoryUnreadableIssue = &Issue{
		id: InventoryUnreadableId,
		mdMsg: `
# Inventory file could not be read!

An inventory file must be the JSON output of a conda package listing.

## Things you can try:
- Regenerate the file from the source environment:
~~~
$ conda list --json > inventory.json
~~~

- Check that every entry has a name, version, platform and base_url`,
		extLinks: []HttpLink{"https://docs.conda.io/projects/conda/en/latest/commands/list.html"},
	}

	condaNotFoundIssue = &Issue{
		id: CondaNotFoundId,
		mdMsg: `
# conda executable not found!

Channel search and installed-environment inventories run the conda CLI.

## Things you can try:
- Activate an environment that provides conda
- Point the config at the binary:
~~~cue
conda: binary: "/opt/miniforge/bin/conda"
~~~

- Use an inventory file instead:
~~~
$ condamirror get --inventory inventory.json numpy
~~~`,
	}

	specNotFoundIssue = &Issue{
		id: SpecNotFoundId,
		mdMsg: `
# Package not found!

One or more package specs matched nothing in the selected inventory.

## Things you can try:
- Check the spelling: specs look like 'name', 'name==version' or
  'name==version=build'
- Add the channel hosting it with '--channel'
- Search the channel yourself:
~~~
$ conda search --json 'numpy==1.26.4'
~~~`,
	}

	ambiguousSpecIssue = &Issue{
		id: AmbiguousSpecId,
		mdMsg: `
# Package spec is ambiguous!

A spec matched several different packages for the same platform. The
candidates are listed above.

## Things you can try:
- Pin the version and build: 'name==version=build'
- Restrict channels with '--override-channels --channel <name>'`,
	}

	persistenceConflictIssue = &Issue{
		id: PersistenceConflictId,
		mdMsg: `
# Patch instructions already exist!

The output directory already holds patch instructions and the conflict
policy is 'error'.

## Things you can try:
- Merge into the existing files:
~~~
$ condamirror get --if-exists merge ...
~~~

- Replace them with '--if-exists overwrite'
- Write to another directory with '--out'`,
	}

	invalidArchiveIssue = &Issue{
		id: InvalidArchiveId,
		mdMsg: `
# Invalid patch archive!

A patch_instructions.tar.bz2 archive may only contain
'<platform>/patch_instructions.json' members.

## Things you can try:
- Recreate the archive with 'condamirror merge'
- Remove the archive and keep the expanded files`,
	}

	downloaderNotFoundIssue = &Issue{
		id: DownloaderNotFoundId,
		mdMsg: `
# Downloader not available!

The configured download tool could not be found.

## Things you can try:
- Install wget, or switch to the built-in HTTP client:
~~~cue
mirror: downloader: "http"
~~~`,
	}

	publishFailedIssue = &Issue{
		id: PublishFailedId,
		mdMsg: `
# Publishing to object storage failed!

## Things you can try:
- Check 'publish.endpoint' and 'publish.bucket' in the configuration
- Export credentials:
~~~
$ export CONDAMIRROR_S3_ACCESS_KEY=...
$ export CONDAMIRROR_S3_SECRET_KEY=...
~~~

- Preview the upload with '--dry-run'`,
		extLinks: []HttpLink{"https://min.io/docs/minio/linux/developers/go/API.html"},
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		inventoryUnreadableIssue.Id(): inventoryUnreadableIssue,
		condaNotFoundIssue.Id():       condaNotFoundIssue,
		specNotFoundIssue.Id():        specNotFoundIssue,
		ambiguousSpecIssue.Id():       ambiguousSpecIssue,
		persistenceConflictIssue.Id(): persistenceConflictIssue,
		invalidArchiveIssue.Id():      invalidArchiveIssue,
		downloaderNotFoundIssue.Id():  downloaderNotFoundIssue,
		publishFailedIssue.Id():       publishFailedIssue,
	}
)

// Values returns every catalogued issue ordered by id.
func Values() []*Issue {
	out := maps.Values(issues)
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
