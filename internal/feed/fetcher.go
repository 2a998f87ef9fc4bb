package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rajasatyajit/FuelWatch/config"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	"golang.org/x/time/rate"
)

// maxArchiveBytes bounds a single download
const maxArchiveBytes = 512 << 20

// ID identifies a feed: the current snapshot or one yearly archive
type ID struct {
	year int
}

// Snapshot is the continuously updated instant feed
func Snapshot() ID { return ID{} }

// Year is the archive of one calendar year
func Year(y int) ID { return ID{year: y} }

// IsSnapshot reports whether id is the instant feed
func (id ID) IsSnapshot() bool { return id.year == 0 }

// Year returns the archive year, or 0 for the snapshot
func (id ID) Year() int { return id.year }

func (id ID) String() string {
	if id.IsSnapshot() {
		return "instantane"
	}
	return "annee/" + strconv.Itoa(id.year)
}

// Fetcher downloads feed archives
type Fetcher struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
}

// NewFetcher creates a fetcher from the feed configuration
func NewFetcher(cfg config.FeedConfig) *Fetcher {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Fetcher{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// URL returns the download location of id
func (f *Fetcher) URL(id ID) string {
	return f.baseURL + "/" + id.String()
}

// Fetch downloads the compressed archive of id. Yearly archives are paced by
// the configured rate limit. Every failure is a *errors.DownloadError.
func (f *Fetcher) Fetch(ctx context.Context, id ID) ([]byte, error) {
	if !id.IsSnapshot() {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &apperrors.DownloadError{Feed: id.String(), Err: err}
		}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	url := f.URL(id)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &apperrors.DownloadError{Feed: id.String(), Err: fmt.Errorf("create request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &apperrors.DownloadError{Feed: id.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperrors.DownloadError{Feed: id.String(), Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, &apperrors.DownloadError{Feed: id.String(), Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) > maxArchiveBytes {
		return nil, &apperrors.DownloadError{Feed: id.String(), Err: fmt.Errorf("archive exceeds %d bytes", maxArchiveBytes)}
	}

	logger.Info("Feed downloaded",
		"feed", id.String(),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return data, nil
}

// Open downloads id and returns a streaming reader over its XML document
func (f *Fetcher) Open(ctx context.Context, id ID) (io.ReadCloser, error) {
	data, err := f.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := OpenDocument(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		var xe *apperrors.ExtractError
		if errors.As(err, &xe) {
			xe.Feed = id.String()
		}
		return nil, err
	}
	return doc, nil
}
