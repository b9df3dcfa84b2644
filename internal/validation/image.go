package validation

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultImageTimeout bounds each image probe request.
const DefaultImageTimeout = 5 * time.Second

// probeRange asks for the first bytes only when HEAD is refused.
const probeRange = "bytes=0-128"

// ProbeCache memoizes image probe verdicts by URL.
type ProbeCache interface {
	Lookup(ctx context.Context, url string) (string, bool)
	Store(ctx context.Context, url string, status string)
}

// ImageOptions configures an ImageChecker.
type ImageOptions struct {
	Timeout time.Duration
	// RPS caps probes per second across all workers; zero disables the limit.
	RPS    float64
	Cache  ProbeCache
	Client *http.Client
}

// ImageChecker probes image URLs for reachability.
type ImageChecker struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	cache   ProbeCache
}

// NewImageChecker creates an ImageChecker.
func NewImageChecker(opts ImageOptions) *ImageChecker {
	c := &ImageChecker{
		client:  opts.Client,
		timeout: opts.Timeout,
		cache:   opts.Cache,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultImageTimeout
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// Check returns ImageOK when the URL answers below 400, either to HEAD or to a
// ranged GET issued after HEAD fails. Anything else is ImageBroken. Only
// verdicts backed by an HTTP status are cached.
func (c *ImageChecker) Check(ctx context.Context, imageURL string) ImageStatus {
	if imageURL == "" || !strings.HasPrefix(imageURL, "http") {
		return ImageBroken
	}
	if c.cache != nil {
		if cached, ok := c.cache.Lookup(ctx, imageURL); ok {
			return ImageStatus(cached)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ImageBroken
		}
	}

	status, err := c.probe(ctx, imageURL)
	if err != nil {
		zap.L().Debug("image probe failed", zap.String("url", imageURL), zap.Error(err))
		return ImageBroken
	}
	if c.cache != nil && ctx.Err() == nil {
		c.cache.Store(ctx, imageURL, string(status))
	}
	return status
}

// probe returns an error when no HTTP status was obtained.
func (c *ImageChecker) probe(ctx context.Context, imageURL string) (ImageStatus, error) {
	code, err := c.do(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return ImageBroken, err
	}
	// 405 falls in this branch too.
	if code >= http.StatusBadRequest {
		code, err = c.do(ctx, http.MethodGet, imageURL, map[string]string{"Range": probeRange})
		if err != nil {
			return ImageBroken, err
		}
	}
	if code < http.StatusBadRequest {
		return ImageOK, nil
	}
	return ImageBroken, nil
}

func (c *ImageChecker) do(ctx context.Context, method, url string, headers map[string]string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
