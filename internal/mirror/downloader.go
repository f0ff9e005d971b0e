// SPDX-License-Identifier: MPL-2.0

package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// KindAuto picks wget when it is on PATH, the HTTP client otherwise.
	KindAuto Kind = "auto"
	// KindWget runs wget in a child process.
	KindWget Kind = "wget"
	// KindHTTP streams downloads with net/http.
	KindHTTP Kind = "http"

	// DefaultTimeout bounds one artifact download.
	DefaultTimeout = 10 * time.Minute
)

var (
	// ErrDownloadFailed is wrapped by every DownloadError.
	ErrDownloadFailed = errors.New("download failed")

	// ErrUnknownDownloader is returned by NewDownloader for an unknown Kind.
	ErrUnknownDownloader = errors.New("unknown downloader")
)

type (
	// Kind names a download strategy.
	Kind string

	// Downloader fetches one URL into a directory and returns the path of
	// the file it wrote there.
	Downloader interface {
		Download(ctx context.Context, rawURL, dir string) (string, error)
	}

	// DownloadError describes one failed attempt. Status is the HTTP status
	// or the wget exit code, zero when the request never completed.
	DownloadError struct {
		URL    string
		Status int
		Err    error
	}

	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LookPathFunc is the function signature of exec.LookPath.
	LookPathFunc func(file string) (string, error)

	// WgetDownloader downloads with the wget executable.
	WgetDownloader struct {
		binary      string
		execCommand ExecCommandFunc
	}

	// HTTPDownloader streams downloads with an http.Client.
	HTTPDownloader struct {
		client    *http.Client
		userAgent string
	}

	// DownloaderOption configures NewDownloader.
	DownloaderOption func(*downloaderOptions)

	downloaderOptions struct {
		httpClient  *http.Client
		userAgent   string
		wgetBinary  string
		execCommand ExecCommandFunc
		lookPath    LookPathFunc
	}
)

func (e *DownloadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("download %s: %v", e.URL, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	default:
		return "download " + e.URL + " failed"
	}
}

func (e *DownloadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDownloadFailed, e.Err}
	}
	return []error{ErrDownloadFailed}
}

// WithDownloadClient sets the client of the HTTP strategy.
func WithDownloadClient(c *http.Client) DownloaderOption {
	return func(o *downloaderOptions) {
		o.httpClient = c
	}
}

// WithDownloadUserAgent sets the User-Agent of the HTTP strategy.
func WithDownloadUserAgent(ua string) DownloaderOption {
	return func(o *downloaderOptions) {
		o.userAgent = ua
	}
}

// WithWgetBinary sets the wget executable ("wget" by default).
func WithWgetBinary(binary string) DownloaderOption {
	return func(o *downloaderOptions) {
		o.wgetBinary = binary
	}
}

// WithExecCommand replaces process creation of the wget strategy, for tests.
func WithExecCommand(fn ExecCommandFunc) DownloaderOption {
	return func(o *downloaderOptions) {
		o.execCommand = fn
	}
}

// WithLookPath replaces the PATH probe used by KindAuto, for tests.
func WithLookPath(fn LookPathFunc) DownloaderOption {
	return func(o *downloaderOptions) {
		o.lookPath = fn
	}
}

// NewDownloader returns the strategy for kind. KindAuto (or an empty kind)
// probes for wget once, here.
func NewDownloader(kind Kind, opts ...DownloaderOption) (Downloader, error) {
	o := downloaderOptions{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		userAgent:   "condamirror",
		wgetBinary:  "wget",
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
	}
	for _, opt := range opts {
		opt(&o)
	}

	wget := NewWgetDownloader(o.wgetBinary, o.execCommand)
	httpd := NewHTTPDownloader(o.httpClient, o.userAgent)

	switch kind {
	case KindWget:
		return wget, nil
	case KindHTTP:
		return httpd, nil
	case KindAuto, "":
		if _, err := o.lookPath(o.wgetBinary); err == nil {
			return wget, nil
		}
		return httpd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDownloader, kind)
	}
}

// NewWgetDownloader returns a wget strategy using binary.
func NewWgetDownloader(binary string, execCommand ExecCommandFunc) *WgetDownloader {
	if binary == "" {
		binary = "wget"
	}
	if execCommand == nil {
		execCommand = exec.CommandContext
	}
	return &WgetDownloader{binary: binary, execCommand: execCommand}
}

// NewHTTPDownloader returns an HTTP strategy using client.
func NewHTTPDownloader(client *http.Client, userAgent string) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPDownloader{client: client, userAgent: userAgent}
}

// Download runs wget inside dir. wget names the file after the last URL
// path segment.
func (w *WgetDownloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}

	cmd := w.execCommand(ctx, w.binary, "--quiet", "--no-clobber", rawURL)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &DownloadError{URL: rawURL, Status: exitErr.ExitCode()}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &DownloadError{URL: rawURL, Err: ctxErr}
		}
		return "", &DownloadError{URL: rawURL, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	return filepath.Join(dir, name), nil
}

// Download streams rawURL into dir. A partially written file is removed.
func (h *HTTPDownloader) Download(ctx context.Context, rawURL, dir string) (_ string, err error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req) //nolint:gosec // URL comes from the package inventory
	if err != nil {
		return "", &DownloadError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }() // read-only HTTP response body

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	target := filepath.Join(dir, name)
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err = io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return "", &DownloadError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("writing %s: %w", target, err)
	}
	return target, nil
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("no file name in %q", rawURL)
	}
	return name, nil
}
