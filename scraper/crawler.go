package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"lot_harvester/logging"
	"lot_harvester/models"
)

const progressEvery = 10

// CrawlOutput is the snapshot of one crawl. Skipped counts detail pages that
// failed to fetch or extract; those offers are missing from Records.
type CrawlOutput struct {
	Records []models.DetailRecord
	Listed  int
	Skipped int
}

// Crawler walks the listing page and then every detail page, one at a time
type Crawler struct {
	fetcher    Fetcher
	extractor  *Extractor
	listingURL string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewCrawler(fetcher Fetcher, extractor *Extractor, listingURL string) *Crawler {
	return &Crawler{
		fetcher:    fetcher,
		extractor:  extractor,
		listingURL: listingURL,
		sleep:      sleepContext,
	}
}

// ParseListing fetches and extracts the listing page. Any error here is fatal
// for the run.
func (c *Crawler) ParseListing(ctx context.Context) ([]models.ListingRef, error) {
	log.Printf("Parsing listing page %s", c.listingURL)

	html, err := c.fetcher.Fetch(ctx, c.listingURL)
	if err != nil {
		return nil, fmt.Errorf("listing page: %w", err)
	}

	refs, err := c.extractor.ExtractListing(html)
	if err != nil {
		return nil, fmt.Errorf("listing page: %w", err)
	}

	log.Printf("Found %d sale lots", len(refs))
	return refs, nil
}

// ParseDetail fetches and extracts one offer
func (c *Crawler) ParseDetail(ctx context.Context, ref models.ListingRef) (*models.DetailRecord, error) {
	logging.Debugf("Parsing lot %s", ref.ExternalID)

	html, err := c.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	return c.extractor.ExtractDetail(html, ref)
}

// CrawlAll produces the ordered snapshot. A failed detail page is logged and left
// out of the snapshot without failing the crawl. On cancellation the records
// collected so far are returned together with the context error.
func (c *Crawler) CrawlAll(ctx context.Context, delay time.Duration) (*CrawlOutput, error) {
	refs, err := c.ParseListing(ctx)
	if err != nil {
		return nil, err
	}

	out := &CrawlOutput{
		Records: make([]models.DetailRecord, 0, len(refs)),
		Listed:  len(refs),
	}

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		rec, err := c.ParseDetail(ctx, ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			log.Printf("Failed to parse lot %s: %v", ref.ExternalID, err)
			out.Skipped++
		} else {
			out.Records = append(out.Records, *rec)
		}

		if (i+1)%progressEvery == 0 {
			log.Printf("Parsed %d/%d lots", i+1, len(refs))
		}

		if i < len(refs)-1 && delay > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return out, err
			}
		}
	}

	log.Printf("Successfully parsed %d lots (%d skipped)", len(out.Records), out.Skipped)
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
