package scraper

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/parser"
)

// TableScraper 实现了 Scraper 接口，用于抓取以 <tr><td>ip</td><td>port</td> 形式列出代理的 HTML 页面
// (proxyhub.me, proxydocker.com 等)。
type TableScraper struct {
	source types.Source
	dl     *Downloader
}

// NewTableScraper 创建一个新的 TableScraper 实例。
func NewTableScraper(src types.Source, dl *Downloader) *TableScraper {
	return &TableScraper{source: src, dl: dl}
}

// Name 返回抓取器的名称。
func (s *TableScraper) Name() string {
	return s.source.Name
}

func (s *TableScraper) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	timeout := 20 * time.Second
	if s.dl.Client != nil && s.dl.Client.Timeout > 0 {
		timeout = s.dl.Client.Timeout
	}
	c.SetRequestTimeout(timeout)
	return c
}

// Scrape 执行抓取操作。
func (s *TableScraper) Scrape(ctx context.Context) (*Result, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proto := htmlProtocol(s.source.Kind)
	res := &Result{}
	var scrapeErr error
	var succeeded bool
	var mu sync.Mutex

	c := s.newCollector()
	attempts := s.dl.attempts()

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		s.dl.SetHeaders(*r.Headers)
	})

	c.OnResponse(func(r *colly.Response) {
		succeeded = true
	})

	c.OnHTML("tr", func(e *colly.HTMLElement) {
		cells := e.ChildTexts("td")
		if len(cells) < 2 {
			return
		}
		ip := strings.TrimSpace(cells[0])
		portStr := strings.TrimSpace(cells[1])
		if ip == "" || portStr == "" || !parser.IsIPv4(ip) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		res.Received++

		port, err := strconv.Atoi(portStr)
		if err != nil || !model.ValidPort(port) {
			l.Debug().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse port, skipping row.")
			res.Invalid++
			return
		}
		res.Records = append(res.Records, &model.ProxyRecord{
			Protocol: proto,
			Address:  ip,
			Port:     port,
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		attempt := 1
		if v, ok := r.Ctx.GetAny("attempt").(int); ok {
			attempt = v
		}
		if attempt < attempts && ctx.Err() == nil {
			wait := s.dl.RetryBackoff
			if r.StatusCode == 403 {
				wait = s.dl.ForbiddenBackoff + jitter(s.dl.ForbiddenBackoff/2)
			}
			l.Debug().Err(err).Int("status_code", r.StatusCode).Str("url", s.source.URL).Int("attempt", attempt).Msg("Scrape request failed, retrying.")
			if Sleep(ctx, wait) == nil {
				r.Ctx.Put("attempt", attempt+1)
				// A failed retry has already been reported by the nested OnError call.
				if retryErr := r.Request.Retry(); retryErr == nil || scrapeErr != nil {
					return
				}
			}
		}
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("url", s.source.URL).Str("source", s.Name()).Msg("Scrape request failed.")
		if r.StatusCode != 0 {
			scrapeErr = &StatusError{URL: s.source.URL, StatusCode: r.StatusCode}
		} else {
			scrapeErr = err
		}
	})

	// Visit still reports the first failure when a retry inside OnError succeeded.
	if err := c.Visit(s.source.URL); err != nil && scrapeErr == nil && !succeeded {
		scrapeErr = err
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.Debug().Int("count", len(res.Records)).Str("source", s.Name()).Msg("Table scrape finished.")
	return res, nil
}
