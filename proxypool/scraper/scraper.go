package scraper

import (
	"context"
	"fmt"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/proxypool/model"
)

// Scraper 接口定义了从代理源抓取候选代理的行为。
type Scraper interface {
	// Scrape 抓取并解析单个代理源，不做任何验证。
	Scrape(ctx context.Context) ([]model.Candidate, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// SourceScraper scrapes a configured Source with its extraction strategy.
type SourceScraper struct {
	source  model.Source
	fetcher Fetcher
}

// NewSourceScraper binds a source to the fetcher used to download it.
func NewSourceScraper(source model.Source, fetcher Fetcher) Scraper {
	return &SourceScraper{source: source, fetcher: fetcher}
}

func (s *SourceScraper) Name() string {
	return s.source.String()
}

func (s *SourceScraper) Scrape(ctx context.Context) ([]model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.Name()).Str("strategy", string(s.source.Strategy)).Msg("Starting scrape...")

	body, err := s.fetcher.Fetch(ctx, s.source.URL)
	if err != nil {
		return nil, err
	}

	candidates, err := Extract(s.source.Strategy, body)
	if err != nil {
		return nil, fmt.Errorf("failed to extract from %s: %w", s.Name(), err)
	}

	l.Debug().Int("count", len(candidates)).Str("source", s.Name()).Msg("Scrape finished.")
	return candidates, nil
}

// ScrapersFor creates one scraper per source, in configured order.
func ScrapersFor(sources []model.Source, fetcher Fetcher) []Scraper {
	scrapers := make([]Scraper, 0, len(sources))
	for _, src := range sources {
		scrapers = append(scrapers, NewSourceScraper(src, fetcher))
	}
	return scrapers
}
