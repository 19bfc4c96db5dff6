package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/models"
)

// ErrAlreadyInstalled signals that the model directory already holds weights.
var ErrAlreadyInstalled = errors.New("model already installed")

// DownloadError wraps a failed download after retries were exhausted.
type DownloadError struct {
	Name string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download model %q: %v", e.Name, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Progress reports download progress. total is -1 when unknown.
type Progress func(done, total int64)

// Downloader installs catalog models.
type Downloader struct {
	modelsDir  string
	baseURL    string
	client     *http.Client
	retryDelay time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithBaseURL overrides the download host. Tests point it at a local server.
func WithBaseURL(url string) Option {
	return func(d *Downloader) { d.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithRetryDelay overrides the pause between download attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) { d.retryDelay = delay }
}

// NewDownloader creates a downloader installing into modelsDir.
func NewDownloader(modelsDir string, opts ...Option) *Downloader {
	d := &Downloader{
		modelsDir:  modelsDir,
		baseURL:    "https://huggingface.co",
		client:     &http.Client{},
		retryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Downloader) url(e Entry) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", d.baseURL, e.Repo, e.File)
}

// Pull downloads a catalog model and writes its config. Already installed
// models return ErrAlreadyInstalled.
func (d *Downloader) Pull(ctx context.Context, name string, progress Progress) error {
	entry, ok := Find(name)
	if !ok {
		return &UnknownEntryError{Name: name}
	}

	modelDir := filepath.Join(d.modelsDir, entry.Name)
	weights := filepath.Join(modelDir, models.WeightsFileName)
	if _, err := os.Stat(weights); err == nil {
		return ErrAlreadyInstalled
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create model directory")
	}
	if err := d.checkFreeSpace(entry); err != nil {
		return err
	}

	log := logger.G(ctx).WithField("model", entry.Name)
	log.WithField("url", d.url(entry)).Info("downloading model")

	partial := weights + ".partial"
	err := retry.Do(
		func() error { return d.fetch(ctx, entry, partial, progress) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(d.retryDelay),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("download failed, retrying")
		}),
	)
	if err != nil {
		_ = os.Remove(partial)
		return &DownloadError{Name: entry.Name, Err: err}
	}

	if err := os.Rename(partial, weights); err != nil {
		return errors.Wrap(err, "failed to move downloaded weights into place")
	}

	cfg := models.ModelConfig{
		Name:         entry.Name,
		Family:       entry.Family,
		Quantization: entry.Quantization,
		ContextSize:  entry.ContextSize,
		Template:     entry.Template,
	}
	if err := models.WriteConfig(d.modelsDir, cfg); err != nil {
		return err
	}

	log.Info("model installed")
	return nil
}

func (d *Downloader) fetch(ctx context.Context, entry Entry, dest string, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url(entry), nil)
	if err != nil {
		return errors.Wrap(err, "failed to build download request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, d.url(entry))
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "failed to create weights file")
	}
	defer out.Close()

	var done int64
	buf := make([]byte, 1<<20)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return errors.Wrap(writeErr, "failed to write weights file")
			}
			done += int64(n)
			if progress != nil {
				progress(done, resp.ContentLength)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return errors.Wrap(readErr, "download interrupted")
		}
	}
}

// checkFreeSpace refuses a download that would not fit on disk.
func (d *Downloader) checkFreeSpace(entry Entry) error {
	usage, err := disk.Usage(d.modelsDir)
	if err != nil {
		// Free-space probing is best effort; the download itself will fail
		// if the disk truly fills up.
		return nil
	}
	if usage.Free < uint64(entry.SizeBytes) {
		return errors.Errorf("not enough disk space for %s: need %d bytes, have %d free",
			entry.Name, entry.SizeBytes, usage.Free)
	}
	return nil
}

// Remove deletes an installed model from disk.
func Remove(modelsDir, name string) error {
	modelDir := filepath.Join(modelsDir, name)
	if _, err := os.Stat(modelDir); os.IsNotExist(err) {
		return &models.NotFoundError{Name: name}
	}
	return errors.Wrap(os.RemoveAll(modelDir), "failed to remove model directory")
}
