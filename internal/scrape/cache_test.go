package scrape

import (
	"context"
	"testing"
	"time"
)

type recordingFetcher struct {
	calls    int
	fallback bool
}

func (f *recordingFetcher) Fetch(ctx context.Context, url string) (*Product, error) {
	f.calls++
	if f.fallback {
		return FallbackProduct(url), nil
	}
	return &Product{Title: "Widget", URL: url, Price: 100}, nil
}

func TestCachedFetcherServesRepeatLookups(t *testing.T) {
	fetcher := &recordingFetcher{}
	cached := NewCachedFetcher(fetcher, newMemoryCache(), time.Minute)

	ctx := context.Background()
	url := "https://shop.example.com/p/widget"
	first, err := cached.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := cached.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if fetcher.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", fetcher.calls)
	}
	if first.Title != second.Title || first.Price != second.Price {
		t.Fatalf("cached product diverged: %+v vs %+v", first, second)
	}
}

func TestCachedFetcherVariesByURL(t *testing.T) {
	fetcher := &recordingFetcher{}
	cached := NewCachedFetcher(fetcher, newMemoryCache(), time.Minute)

	ctx := context.Background()
	if _, err := cached.Fetch(ctx, "https://shop.example.com/p/a"); err != nil {
		t.Fatalf("fetch a: %v", err)
	}
	if _, err := cached.Fetch(ctx, "https://shop.example.com/p/b"); err != nil {
		t.Fatalf("fetch b: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", fetcher.calls)
	}
}

func TestCachedFetcherSkipsFallbackProducts(t *testing.T) {
	fetcher := &recordingFetcher{fallback: true}
	cached := NewCachedFetcher(fetcher, newMemoryCache(), time.Minute)

	ctx := context.Background()
	url := "https://shop.example.com/p/flaky"
	if _, err := cached.Fetch(ctx, url); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// The origin recovers; the fallback must not mask it.
	fetcher.fallback = false
	product, err := cached.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if product.Fallback {
		t.Fatal("stale fallback served from cache")
	}
	if fetcher.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", fetcher.calls)
	}
}
