package scraper

import (
	"context"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/parser"
)

// TextScraper handles plain ip:port lists and share-link subscriptions.
type TextScraper struct {
	source types.Source
	dl     *Downloader
}

func NewTextScraper(src types.Source, dl *Downloader) *TextScraper {
	return &TextScraper{source: src, dl: dl}
}

func (s *TextScraper) Name() string {
	return s.source.Name
}

func (s *TextScraper) Scrape(ctx context.Context) (*Result, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	body, err := s.dl.Get(ctx, s.source.URL)
	if err != nil {
		return nil, err
	}

	records, invalid := parser.ParseBody(string(body), s.source.Kind)
	l.Debug().Str("source", s.Name()).Int("parsed", len(records)).Int("invalid", invalid).Msg("Text source parsed.")
	return &Result{
		Records:  records,
		Received: len(records) + invalid,
		Invalid:  invalid,
	}, nil
}
