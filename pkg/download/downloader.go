// Package download fetches model files over HTTP with bounded concurrency,
// transient-failure retries, atomic writes, and optional SHA-256 verification.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
)

// Options configures a Downloader.
type Options struct {
	// MaxConcurrent bounds the number of files transferred at once.
	MaxConcurrent int

	// Retries bounds attempts per file for transient failures.
	Retries int

	// SkipExisting skips files already present whose size matches the
	// declared size (or that exist at all when no size is declared).
	SkipExisting bool

	// VerifyChecksums enables SHA-256 verification against declared digests.
	VerifyChecksums bool

	// HFToken is sent as a bearer token to huggingface.co hosts only.
	HFToken string

	// CivitaiToken is appended as a query parameter to civitai.com URLs.
	CivitaiToken string

	// Timeout bounds one transfer attempt. Zero means no limit.
	Timeout time.Duration
}

// Result is the outcome of one file transfer.
type Result struct {
	Filename string
	Path     string
	Success  bool
	Skipped  bool
	Error    string
	SHA256   string
	Bytes    int64
}

// Downloader transfers model files into the engine's model directories.
type Downloader struct {
	opts    Options
	client  *http.Client
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewDownloader creates a downloader. A nil client uses http.DefaultClient.
func NewDownloader(opts Options, client *http.Client, log *telemetry.Logger, metrics *telemetry.Metrics) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Downloader{
		opts:    opts,
		client:  client,
		log:     log.NewComponentLogger("download"),
		metrics: metrics,
	}
}

// Download fetches every file into its target directory under modelsRoot.
// Files are transferred concurrently up to the configured limit; one failing
// file never aborts the others. Results are returned in input order.
func (d *Downloader) Download(ctx context.Context, files []bundle.PlacedModelFile, modelsRoot string) []Result {
	results := make([]Result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.MaxConcurrent)

	for i, f := range files {
		g.Go(func() error {
			results[i] = d.downloadOne(ctx, f, modelsRoot)
			return nil
		})
	}
	// Workers never return errors; failures live in the per-file results.
	_ = g.Wait()

	for _, r := range results {
		status := "success"
		if r.Skipped {
			status = "skipped"
		} else if !r.Success {
			status = "failure"
		}
		d.metrics.RecordDownload(status, r.Bytes)
	}
	return results
}

func (d *Downloader) downloadOne(ctx context.Context, f bundle.PlacedModelFile, modelsRoot string) Result {
	log := d.log.WithField("filename", f.Filename)
	targetDir := f.TargetDir(modelsRoot)
	target := f.TargetPath(modelsRoot)

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Result{Filename: f.Filename, Error: fmt.Sprintf("create directory: %v", err)}
	}

	if d.opts.SkipExisting {
		if info, err := os.Stat(target); err == nil {
			if f.Size == 0 || info.Size() == f.Size {
				log.Debug("already present, skipping")
				return Result{Filename: f.Filename, Path: target, Success: true, Skipped: true, Bytes: info.Size()}
			}
			log.Warnf("size mismatch on existing file (%d != %d), re-downloading", info.Size(), f.Size)
		}
	}

	var res Result
	attempt := 0
	op := func() error {
		attempt++
		var err error
		res, err = d.transfer(ctx, f, target)
		if err == nil {
			return nil
		}
		if errdefs.IsTransient(err) {
			log.WithError(err).Warnf("attempt %d failed, retrying", attempt)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.opts.Retries-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Result{Filename: f.Filename, Error: err.Error()}
	}

	log.WithField("bytes", res.Bytes).Info("downloaded")
	return res
}

// transfer performs one download attempt: fetch, stream to a temp file while
// hashing, verify, and rename into place. The final path never holds a
// partial or corrupt file.
func (d *Downloader) transfer(ctx context.Context, f bundle.PlacedModelFile, target string) (Result, error) {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	reqURL, err := d.requestURL(f.URL)
	if err != nil {
		return Result{Filename: f.Filename}, errdefs.NewValidation(fmt.Sprintf("invalid URL %s", f.URL), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{Filename: f.Filename}, errdefs.NewValidation("failed to build request", err)
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Filename: f.Filename}, errdefs.NewTransient("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, f.URL)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Result{Filename: f.Filename}, errdefs.NewTransient(msg, nil)
		}
		return Result{Filename: f.Filename}, &errdefs.Error{
			Class:   errdefs.ErrorClassPermanent,
			Message: msg,
		}
	}

	filename := f.Filename
	if filename == "" {
		filename = filenameFromResponse(resp, f.URL)
		target = filepath.Join(filepath.Dir(target), filename)
	}

	tmp := target + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return Result{Filename: filename}, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp)
		if err == nil {
			err = closeErr
		}
		return Result{Filename: filename}, errdefs.NewTransient("transfer interrupted", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if d.opts.VerifyChecksums && f.SHA256 != "" && !strings.EqualFold(digest, f.SHA256) {
		os.Remove(tmp)
		return Result{Filename: filename}, &errdefs.Error{
			Class:   errdefs.ErrorClassPermanent,
			Code:    errdefs.CodeChecksumMismatch,
			Message: fmt.Sprintf("checksum mismatch for %s: got %s, want %s", filename, digest, f.SHA256),
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return Result{Filename: filename}, fmt.Errorf("finalize file: %w", err)
	}

	return Result{Filename: filename, Path: target, Success: true, SHA256: digest, Bytes: n}, nil
}

// requestURL rewrites the URL for token-in-query sources. Civitai expects the
// API token as a query parameter; any token already present is replaced.
func (d *Downloader) requestURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if d.opts.CivitaiToken != "" && isCivitaiHost(u.Host) {
		q := u.Query()
		q.Set("token", d.opts.CivitaiToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// authorize attaches credentials appropriate for the request host. Bearer
// tokens are never sent to hosts other than their issuer.
func (d *Downloader) authorize(req *http.Request) {
	if d.opts.HFToken != "" && isHuggingFaceHost(req.URL.Host) {
		req.Header.Set("Authorization", "Bearer "+d.opts.HFToken)
	}
}

func isHuggingFaceHost(host string) bool {
	host = strings.ToLower(host)
	return host == "huggingface.co" || strings.HasSuffix(host, ".huggingface.co")
}

func isCivitaiHost(host string) bool {
	host = strings.ToLower(host)
	return host == "civitai.com" || strings.HasSuffix(host, ".civitai.com")
}

// filenameFromResponse derives a filename from the Content-Disposition
// header, falling back to the last URL path segment. Extended (RFC 5987)
// filename parameters are handled by the mime package.
func filenameFromResponse(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := filepath.Base(params["filename"]); name != "." && name != "/" && name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := filepath.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return "download.bin"
}
