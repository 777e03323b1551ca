package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/corpix/uarand"

	"irproxy_pool/internal/shared/logger"
)

const maxBodySize = 16 << 20

// StatusError is returned when a source keeps answering with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Downloader GETs source bodies with a bounded number of attempts. A 403 waits
// ForbiddenBackoff (plus jitter) before the next attempt, any other failure waits RetryBackoff.
type Downloader struct {
	Client           *http.Client
	Retries          int
	RetryBackoff     time.Duration
	ForbiddenBackoff time.Duration
	// UserAgent returns the header for each request. Defaults to uarand.GetRandom.
	UserAgent func() string
}

// NewDownloader 创建一个带默认 User-Agent 轮换的下载器。
func NewDownloader(timeout time.Duration, retries int, retryBackoff, forbiddenBackoff time.Duration) *Downloader {
	return &Downloader{
		Client:           &http.Client{Timeout: timeout},
		Retries:          retries,
		RetryBackoff:     retryBackoff,
		ForbiddenBackoff: forbiddenBackoff,
		UserAgent:        uarand.GetRandom,
	}
}

func (d *Downloader) userAgent() string {
	if d.UserAgent == nil {
		return uarand.GetRandom()
	}
	return d.UserAgent()
}

func (d *Downloader) attempts() int {
	if d.Retries <= 0 {
		return 1
	}
	return d.Retries
}

// SetHeaders applies the browser-like headers every source request carries.
func (d *Downloader) SetHeaders(h http.Header) {
	h.Set("User-Agent", d.userAgent())
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Referer", "https://www.google.com/")
}

// Get fetches url and returns the body of the first 200 response.
func (d *Downloader) Get(ctx context.Context, url string) ([]byte, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	var lastErr error
	attempts := d.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := d.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			break
		}

		wait := d.RetryBackoff
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden {
			wait = d.ForbiddenBackoff + jitter(d.ForbiddenBackoff/2)
			l.Warn().Str("url", url).Int("attempt", attempt).Int("attempts", attempts).Msg("Access forbidden (403), backing off.")
		} else {
			l.Debug().Err(err).Str("url", url).Int("attempt", attempt).Msg("Fetch attempt failed, retrying.")
		}
		if err := Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func (d *Downloader) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	d.SetHeaders(req.Header)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
