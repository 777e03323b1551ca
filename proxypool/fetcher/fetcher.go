// Package fetcher turns a list of sources into stamped, probed candidate records for the
// retention engine. Source failures are reported and counted, never returned.
package fetcher

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/scraper"
	"irproxy_pool/proxypool/stats"
)

// CandidateFetcher produces candidate records from a set of sources.
type CandidateFetcher interface {
	FetchCandidates(ctx context.Context, sources []types.Source, scope Scope) ([]*model.ProxyRecord, Report)
}

// Scope restricts which candidates are kept. An empty Countries list keeps everything.
type Scope struct {
	Countries []string
}

// Allows reports whether a record from country is in scope.
func (s Scope) Allows(country string) bool {
	if len(s.Countries) == 0 {
		return true
	}
	for _, c := range s.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// Report summarizes one FetchCandidates call.
type Report struct {
	SourcesAttempted int
	SourcesFailed    int
	FailedURLs       []string
	Received         int
	Duplicates       int
	Filtered         int
	Invalid          int
}

// Add folds another report into r.
func (r *Report) Add(o Report) {
	r.SourcesAttempted += o.SourcesAttempted
	r.SourcesFailed += o.SourcesFailed
	r.FailedURLs = append(r.FailedURLs, o.FailedURLs...)
	r.Received += o.Received
	r.Duplicates += o.Duplicates
	r.Filtered += o.Filtered
	r.Invalid += o.Invalid
}

// SourcesSucceeded is the number of sources that answered.
func (r Report) SourcesSucceeded() int {
	return r.SourcesAttempted - r.SourcesFailed
}

// CountryResolver looks up the country of a host.
type CountryResolver interface {
	Resolve(ctx context.Context, host string) string
}

// Prober checks liveness and stamps each record with the probe day.
type Prober interface {
	ProbeAll(ctx context.Context, records []*model.ProxyRecord, day string) int
}

// ScraperFactory builds the scraper for one source.
type ScraperFactory func(src types.Source) (scraper.Scraper, error)

// Options wires a Fetcher.
type Options struct {
	// NewScraper defaults to scraper.New over Downloader.
	NewScraper ScraperFactory
	Downloader *scraper.Downloader
	Geo        CountryResolver
	Prober     Prober
	// SourcesPerSecond paces source requests. Zero or less means no pacing.
	SourcesPerSecond float64
	Counters         *stats.Counters
	Now              func() time.Time
}

// Fetcher 是 CandidateFetcher 的默认实现：顺序抓取各个源，识别国家、过滤、探测并打上日期。
type Fetcher struct {
	newScraper ScraperFactory
	geo        CountryResolver
	prober     Prober
	limiter    *rate.Limiter
	counters   *stats.Counters
	now        func() time.Time
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		newScraper: opts.NewScraper,
		geo:        opts.Geo,
		prober:     opts.Prober,
		counters:   opts.Counters,
		now:        opts.Now,
	}
	if f.newScraper == nil {
		dl := opts.Downloader
		if dl == nil {
			dl = scraper.NewDownloader(25*time.Second, 3, 3*time.Second, 5*time.Second)
		}
		f.newScraper = func(src types.Source) (scraper.Scraper, error) {
			return scraper.New(src, dl)
		}
	}
	if opts.SourcesPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.SourcesPerSecond), 1)
	}
	if f.counters == nil {
		f.counters = &stats.Counters{}
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// FetchCandidates fetches every source in order and returns the in-scope, probed candidates
// with no two sharing an identity key.
func (f *Fetcher) FetchCandidates(ctx context.Context, sources []types.Source, scope Scope) ([]*model.ProxyRecord, Report) {
	l := logger.WithComponent("ProxyPool/Fetcher")

	var report Report
	var candidates []*model.ProxyRecord
	seen := make(map[model.Key]struct{})
	today := model.Today(f.now().UTC())

	for _, src := range sources {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				l.Warn().Err(err).Msg("Fetch interrupted.")
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		report.SourcesAttempted++
		kept, ok := f.fetchSource(ctx, src, scope, seen, &report)
		if !ok {
			report.SourcesFailed++
			report.FailedURLs = append(report.FailedURLs, src.URL)
			f.counters.SourcesFailed.Add(1)
			continue
		}
		f.counters.SourcesUsed.Add(1)

		if len(kept) == 0 {
			continue
		}
		if f.prober != nil {
			alive := f.prober.ProbeAll(ctx, kept, today)
			l.Info().Str("source", src.Name).Int("candidates", len(kept)).Int("alive", alive).Msg("Source probed.")
		}
		for _, p := range kept {
			p.AddedDate = today
			if p.LastChecked == "" {
				p.SetProbe(false, 0, today)
			}
		}
		candidates = append(candidates, kept...)
	}

	l.Info().
		Int("sources", report.SourcesAttempted).
		Int("failed", report.SourcesFailed).
		Int("received", report.Received).
		Int("candidates", len(candidates)).
		Int("duplicates", report.Duplicates).
		Int("filtered", report.Filtered).
		Int("invalid", report.Invalid).
		Msg("Fetch finished.")
	return candidates, report
}

// fetchSource scrapes one source and returns its new in-scope records. ok is false when the
// source could not be read at all.
func (f *Fetcher) fetchSource(ctx context.Context, src types.Source, scope Scope, seen map[model.Key]struct{}, report *Report) ([]*model.ProxyRecord, bool) {
	l := logger.WithComponent("ProxyPool/Fetcher")

	sc, err := f.newScraper(src)
	if err != nil {
		l.Warn().Err(err).Str("source", src.Name).Msg("Unsupported source.")
		return nil, false
	}

	res, err := sc.Scrape(ctx)
	if err != nil {
		l.Warn().Err(err).Str("source", sc.Name()).Str("url", src.URL).Msg("Scraper failed.")
		return nil, false
	}

	report.Received += res.Received
	report.Invalid += res.Invalid
	f.counters.Received.Add(int64(res.Received))

	var kept []*model.ProxyRecord
	for _, p := range res.Records {
		if p == nil || strings.TrimSpace(p.Address) == "" || !model.ValidPort(p.Port) {
			report.Invalid++
			continue
		}
		k := p.Key()
		if _, dup := seen[k]; dup {
			report.Duplicates++
			f.counters.Duplicates.Add(1)
			continue
		}
		seen[k] = struct{}{}

		if p.Country == "" {
			p.Country = model.UnknownCountry
			if f.geo != nil {
				p.Country = f.geo.Resolve(ctx, p.Address)
			}
		}
		p.Country = strings.ToUpper(p.Country)
		if !scope.Allows(p.Country) {
			report.Filtered++
			f.counters.NonTarget.Add(1)
			continue
		}
		if len(scope.Countries) > 0 {
			f.counters.TargetCountry.Add(1)
		}

		p.Source = src.URL
		p.SourceName = src.Name
		kept = append(kept, p)
	}

	l.Debug().Str("source", sc.Name()).Int("received", res.Received).Int("kept", len(kept)).Msg("Source fetched.")
	return kept, true
}
