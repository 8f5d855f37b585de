package scrape

import (
	"context"
	"errors"
)

var (
	// ErrQueueCleared rejects pending requests when an operator flushes the
	// admission queue.
	ErrQueueCleared = errors.New("scrape_queue_cleared")
	ErrFetchFailed  = errors.New("fetch_failed")
)

// BankOffer is one card offer found on a product page.
type BankOffer struct {
	Bank        string  `json:"bank"`
	Offer       string  `json:"offer"`
	DiscountPct float64 `json:"discount_pct"`
}

// Product is the snapshot taken from a product page at deal-creation time.
type Product struct {
	Title      string      `json:"title"`
	ImageURL   string      `json:"image_url"`
	URL        string      `json:"url"`
	Price      int64       `json:"price"`
	BankOffers []BankOffer `json:"bank_offers,omitempty"`
	// Fallback marks a placeholder returned when the origin site could not
	// be scraped; the buyer fills in details manually.
	Fallback bool `json:"fallback"`
}

// Fetcher resolves a product URL into a snapshot. Implementations must
// return a fallback product rather than blocking indefinitely on an
// unresponsive origin site.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Product, error)
}

// FallbackProduct is returned when scraping fails or times out.
func FallbackProduct(url string) *Product {
	return &Product{
		Title:    "Unknown product",
		URL:      url,
		Fallback: true,
	}
}
