package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/doyensec/safeurl"

	"studycal/internal/fileutil"
	appLog "studycal/internal/log"
)

const (
	defaultFetchTimeout = 15 * time.Second
	// maxBodyBytes caps a single ICS payload.
	maxBodyBytes = 8 << 20
)

// Fetch outcomes reported to a FetchObserver.
const (
	FetchOK            = "ok"
	FetchNotModified   = "not_modified"
	FetchCacheFallback = "cache_fallback"
	FetchFailed        = "error"
)

// Source is a single ICS subscription.
type Source struct {
	ID   string
	Name string
	URL  string
}

// FetchResult is the outcome of fetching one source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // body reused after 304 or a failed request
}

// FetchObserver receives one outcome per fetch. *metrics.Collector
// implements it.
type FetchObserver interface {
	RecordICSFetch(sourceID, outcome string)
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests and a disk cache
// keyed by URL hash.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	observer FetchObserver
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client, e.g. to disable the address
// guard in tests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithObserver reports fetch outcomes to o.
func WithObserver(o FetchObserver) FetcherOption {
	return func(f *Fetcher) { f.observer = o }
}

// NewGuardedClient returns a client that refuses private, loopback and
// link-local destinations, checked after DNS resolution.
func NewGuardedClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// NewFetcher creates a Fetcher caching under cacheDir. Without
// WithHTTPClient it uses NewGuardedClient.
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{cacheDir: cacheDir}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = NewGuardedClient(defaultFetchTimeout)
	}
	return f
}

// FetchAll fetches every source. Failed sources are logged, reported in
// the error slice and left out of the results.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics source %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches src, sending If-None-Match / If-Modified-Since from the
// cache. On network errors or non-2xx answers the cached body is reused
// when there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		f.observe(src, FetchFailed)
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if meta.URL == src.URL {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	fallback := func(cause error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			f.observe(src, FetchFailed)
			return FetchResult{}, cause
		}
		appLog.Warn("ics fetch failed, using cached body", "id", src.ID, "url", redactURL(src.URL), "error", cause)
		f.observe(src, FetchCacheFallback)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			f.observe(src, FetchFailed)
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", src.ID)
		f.observe(src, FetchNotModified)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return fallback(err)
		}
		if len(body) > maxBodyBytes {
			return fallback(fmt.Errorf("ics body exceeds %d bytes", maxBodyBytes))
		}
		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		f.observe(src, FetchOK)
		return FetchResult{Source: src, Body: body}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) observe(src Source, outcome string) {
	if f.observer != nil {
		f.observer.RecordICSFetch(src.ID, outcome)
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := fileutil.WriteAtomic(filepath.Join(cachePath, "body.ics"), body, ".body-*.tmp"); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(filepath.Join(cachePath, "meta.json"), data, ".meta-*.tmp")
}

// redactURL keeps only scheme and host; ICS URLs often embed private
// tokens in the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
