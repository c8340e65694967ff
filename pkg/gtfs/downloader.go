package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Downloader fetches a static GTFS archive.
type Downloader struct {
	url       string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

func NewDownloader(url, userAgent string, logger *slog.Logger) *Downloader {
	return &Downloader{
		url:       url,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger.With("component", "gtfs_downloader"),
	}
}

// Archive is a downloaded static feed and the hash of its bytes.
type Archive struct {
	Reader      *zip.Reader
	Fingerprint string
	Size        int
}

func (d *Downloader) Download(ctx context.Context) (*Archive, error) {
	start := time.Now()
	d.logger.Info("starting GTFS download", "url", d.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("failed to download GTFS",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("download gtfs: %w", err)
	}
	defer resp.Body.Close()

	d.logger.Debug("received HTTP response",
		"status_code", resp.StatusCode,
		"content_length", resp.ContentLength,
		"content_type", resp.Header.Get("Content-Type"),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	archive, err := OpenArchive(data)
	if err != nil {
		return nil, err
	}

	d.logger.Info("GTFS download completed",
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"files_in_archive", len(archive.Reader.File),
		"sha256", archive.Fingerprint,
		"total_duration_ms", time.Since(start).Milliseconds(),
	)

	return archive, nil
}

// OpenArchive wraps zip bytes that were obtained some other way, such as
// from a local file.
func OpenArchive(data []byte) (*Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return &Archive{
		Reader:      reader,
		Fingerprint: DataFingerprint(data),
		Size:        len(data),
	}, nil
}

func DataFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
