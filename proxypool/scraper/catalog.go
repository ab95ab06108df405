package scraper

import (
	"context"
	"fmt"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/proxypool/model"
	"proxyfinder/proxypool/runlog"
)

// Catalog aggregates the candidates of all scrapers into one deduplicated list.
type Catalog struct {
	scrapers []Scraper
}

// NewCatalog creates a catalog builder over scrapers, visited in the given order.
func NewCatalog(scrapers ...Scraper) *Catalog {
	return &Catalog{scrapers: scrapers}
}

// Build runs every scraper in order and returns the candidates in first-seen
// order. A failing source is reported to sink and skipped.
func (c *Catalog) Build(ctx context.Context, sink runlog.Sink) []model.Candidate {
	l := logger.WithComponent("ProxyPool/Catalog")
	if sink == nil {
		sink = runlog.Discard
	}

	set := newCandidateSet()
	for _, s := range c.scrapers {
		if ctx.Err() != nil {
			l.Warn().Err(ctx.Err()).Msg("Catalog build interrupted.")
			break
		}

		candidates, err := s.Scrape(ctx)
		if err != nil {
			l.Warn().Err(err).Str("source", s.Name()).Msg("Scraper failed.")
			sink.Emit(fmt.Sprintf("Failed to fetch from %s: %v", s.Name(), err))
			continue
		}

		added := 0
		for _, cand := range candidates {
			if set.add(cand) {
				added++
			}
		}
		l.Info().Str("source", s.Name()).Int("extracted", len(candidates)).Int("new", added).Msg("Source processed.")
	}

	sink.Emit(fmt.Sprintf("Extracted %d unique proxies.", len(set.items)))
	return set.items
}
