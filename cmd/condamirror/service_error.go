// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"condamirror/internal/config"
	"condamirror/internal/inventory"
	"condamirror/internal/issue"
	"condamirror/internal/mirror"
	"condamirror/internal/patchstore"
	"condamirror/internal/publish"
	"condamirror/pkg/conda"

	"github.com/charmbracelet/log"
)

// ServiceError is an error that names the issue catalog entry explaining it.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// issueFor returns the catalog entry for err, or 0 when none applies.
// An explicit ServiceError ID wins over classification by cause.
func issueFor(err error) issue.Id {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.IssueID != 0 {
		return svcErr.IssueID
	}

	var (
		ambiguous *conda.AmbiguousSpecError
		missing   *inventory.MissingInventoryFileError
		conflict  *patchstore.PersistenceConflictError
	)
	switch {
	case errors.As(err, &ambiguous):
		return issue.AmbiguousSpecId
	case errors.As(err, &missing):
		return issue.InventoryUnreadableId
	case errors.Is(err, inventory.ErrCondaNotFound):
		return issue.CondaNotFoundId
	case errors.As(err, &conflict):
		return issue.PersistenceConflictId
	case errors.Is(err, patchstore.ErrInvalidArchive):
		return issue.InvalidArchiveId
	case errors.Is(err, mirror.ErrUnknownDownloader):
		return issue.DownloaderNotFoundId
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId
	case errors.Is(err, publish.ErrMissingCredentials), errors.Is(err, publish.ErrInvalidStoreConfig):
		return issue.PublishFailedId
	default:
		return 0
	}
}

// renderIssue writes the catalog entry for id to w.
func renderIssue(w io.Writer, logger *log.Logger, id issue.Id) {
	if id == 0 {
		return
	}
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	rendered, err := entry.Render("dark")
	if err != nil {
		logger.Warn("failed to render issue catalog entry", "issueID", id, "err", err)
		return
	}
	fmt.Fprint(w, rendered)
}
