package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Strategy names, used in FetchError attempts and logs.
const (
	StrategyOverride = "override"
	StrategyCache    = "cache"
	StrategyListing  = "default-listing"
)

// Strategy is one way of obtaining the feed. Strategies are tried in order
// and the first one returning bytes wins.
type Strategy struct {
	Name   string
	Source string
	Fetch  func(ctx context.Context) ([]byte, error)
	// Remote is false for strategies that only read local state.
	Remote bool
}

// Attempt records why one strategy failed.
type Attempt struct {
	Strategy string
	Source   string
	Err      error
}

// FetchError is returned when no strategy produced the feed. It names every
// source that was tried.
type FetchError struct {
	Attempts []Attempt
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return "feed fetch failed: no sources configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", a.Strategy, a.Source, a.Err))
	}
	return "feed fetch failed: " + strings.Join(parts, "; ")
}

func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Sources lists the sources that were attempted, in order.
func (e *FetchError) Sources() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Source)
	}
	return out
}

// Settings configures a Fetcher.
type Settings struct {
	// OverrideURL is either a direct feed URL or a listing to search.
	OverrideURL string
	// CachePath is the local cached copy of the feed.
	CachePath string
	// ListingURL is the well-known default listing.
	ListingURL string
	Timeout    time.Duration
	// UseBrowser re-renders a listing with Render when plain HTML has no feed link.
	UseBrowser bool
	Render     RenderFunc
	Client     *http.Client
}

// Fetcher resolves the feed through an ordered list of strategies.
type Fetcher struct {
	strategies []Strategy
	opts       *Options
	settings   Settings
}

// New builds the fetch chain: override, local cache, default listing.
// Empty settings skip their strategy.
func New(s Settings) *Fetcher {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.UseBrowser && s.Render == nil {
		s.Render = BrowserRenderer(s.Timeout)
	}
	f := &Fetcher{
		opts: &Options{
			Timeout:   s.Timeout,
			UserAgent: DefaultUserAgent,
			Client:    s.Client,
		},
		settings: s,
	}

	if s.OverrideURL != "" {
		if IsFeedResource(s.OverrideURL) {
			f.strategies = append(f.strategies, f.direct(StrategyOverride, s.OverrideURL))
		} else {
			f.strategies = append(f.strategies, f.listing(StrategyOverride, s.OverrideURL))
		}
	}
	if s.CachePath != "" {
		f.strategies = append(f.strategies, cached(s.CachePath))
	}
	if s.ListingURL != "" {
		f.strategies = append(f.strategies, f.listing(StrategyListing, s.ListingURL))
	}
	return f
}

// NewWithStrategies builds a Fetcher over an explicit strategy list.
func NewWithStrategies(strategies ...Strategy) *Fetcher {
	return &Fetcher{strategies: strategies, opts: DefaultOptions()}
}

// Strategies returns the configured strategies in resolution order.
func (f *Fetcher) Strategies() []Strategy {
	out := make([]Strategy, len(f.strategies))
	copy(out, f.strategies)
	return out
}

// Fetch returns the feed bytes from the first strategy that succeeds.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.run(ctx, f.strategies)
}

// FetchRemote is Fetch restricted to remote strategies.
func (f *Fetcher) FetchRemote(ctx context.Context) ([]byte, error) {
	var remote []Strategy
	for _, s := range f.strategies {
		if s.Remote {
			remote = append(remote, s)
		}
	}
	return f.run(ctx, remote)
}

func (f *Fetcher) run(ctx context.Context, strategies []Strategy) ([]byte, error) {
	fetchErr := &FetchError{}
	for _, s := range strategies {
		data, err := s.Fetch(ctx)
		if err == nil && len(data) == 0 {
			err = errors.New("empty feed")
		}
		if err == nil {
			zap.L().Info("feed fetched",
				zap.String("strategy", s.Name),
				zap.String("source", s.Source),
				zap.Int("bytes", len(data)))
			return data, nil
		}
		zap.L().Warn("feed strategy failed",
			zap.String("strategy", s.Name),
			zap.String("source", s.Source),
			zap.Error(err))
		fetchErr.Attempts = append(fetchErr.Attempts, Attempt{Strategy: s.Name, Source: s.Source, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fetchErr
}

// SaveCache downloads the feed from the remote strategies and writes it to the
// configured cache path. The file is replaced atomically.
func (f *Fetcher) SaveCache(ctx context.Context) (string, int, error) {
	path := f.settings.CachePath
	if path == "" {
		return "", 0, fmt.Errorf("no cache path configured")
	}
	data, err := f.FetchRemote(ctx)
	if err != nil {
		return "", 0, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", 0, err
	}
	return path, len(data), nil
}

func (f *Fetcher) direct(name, feedURL string) Strategy {
	return Strategy{
		Name:   name,
		Source: feedURL,
		Remote: true,
		Fetch: func(ctx context.Context) ([]byte, error) {
			res, err := URL(ctx, feedURL, f.opts)
			if err != nil {
				return nil, err
			}
			return res.Body, nil
		},
	}
}

func (f *Fetcher) listing(name, listingURL string) Strategy {
	return Strategy{
		Name:   name,
		Source: listingURL,
		Remote: true,
		Fetch: func(ctx context.Context) ([]byte, error) {
			link, err := f.discover(ctx, listingURL)
			if err != nil {
				return nil, err
			}
			zap.L().Debug("feed link discovered", zap.String("listing", listingURL), zap.String("link", link))
			res, err := URL(ctx, link, f.opts)
			if err != nil {
				return nil, err
			}
			return res.Body, nil
		},
	}
}

func (f *Fetcher) discover(ctx context.Context, listingURL string) (string, error) {
	res, err := URL(ctx, listingURL, f.opts)
	if err != nil {
		return "", err
	}
	// Links are resolved against the listing's own location after redirects.
	base := res.FinalURL
	if base == "" {
		base = listingURL
	}
	link, err := DiscoverFeedLink(res.Body, base)
	if err == nil || !f.settings.UseBrowser || f.settings.Render == nil {
		return link, err
	}

	rendered, rerr := f.settings.Render(ctx, listingURL)
	if rerr != nil {
		return "", &LinkError{Listing: listingURL, Message: "no link in static HTML and browser render failed", Cause: rerr}
	}
	return DiscoverFeedLink([]byte(rendered), base)
}

func cached(path string) Strategy {
	return Strategy{
		Name:   StrategyCache,
		Source: path,
		Fetch: func(_ context.Context) ([]byte, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("no cached copy at %s", path)
				}
				return nil, fmt.Errorf("failed to read cached feed: %w", err)
			}
			return data, nil
		},
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".feed-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}
