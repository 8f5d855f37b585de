package scrape

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/dealbridge/internal/observability/tracing"
	"go.uber.org/zap"
)

// HTTPFetcher pulls a product page and extracts the basic snapshot fields
// from its meta tags. A failed or slow fetch yields the fallback product;
// deal creation never blocks on an unresponsive origin site.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

func NewHTTPFetcher(timeout time.Duration, log *zap.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPFetcher{
		client:  tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		timeout: timeout,
		log:     log.Named("scrape.fetcher"),
	}
}

var (
	ogTitlePattern = regexp.MustCompile(`(?i)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
	ogImagePattern = regexp.MustCompile(`(?i)<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']+)["']`)
	ogPricePattern = regexp.MustCompile(`(?i)<meta[^>]+property=["'](?:og|product):price:amount["'][^>]+content=["']([0-9.]+)["']`)
	titlePattern   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FallbackProduct(url), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; dealbridge/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("product fetch failed", zap.String("url", url), zap.Error(err))
		return FallbackProduct(url), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.log.Warn("product fetch rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return FallbackProduct(url), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return FallbackProduct(url), nil
	}

	product := parseProductPage(url, string(body))
	if product.Title == "" {
		return FallbackProduct(url), nil
	}
	return product, nil
}

func parseProductPage(url, body string) *Product {
	product := &Product{URL: url}

	if m := ogTitlePattern.FindStringSubmatch(body); len(m) == 2 {
		product.Title = strings.TrimSpace(m[1])
	} else if m := titlePattern.FindStringSubmatch(body); len(m) == 2 {
		product.Title = strings.TrimSpace(m[1])
	}
	if m := ogImagePattern.FindStringSubmatch(body); len(m) == 2 {
		product.ImageURL = strings.TrimSpace(m[1])
	}
	if m := ogPricePattern.FindStringSubmatch(body); len(m) == 2 {
		if price, err := strconv.ParseFloat(m[1], 64); err == nil {
			product.Price = int64(price)
		}
	}
	return product
}
