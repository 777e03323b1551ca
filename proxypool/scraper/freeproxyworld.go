package scraper

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
)

// FreeProxyWorldScraper 实现了 Scraper 接口，用于抓取 freeproxy.world 的代理表格。
// 该站点只有第一个 table 是代理列表，首行是表头。
type FreeProxyWorldScraper struct {
	source types.Source
	dl     *Downloader
}

// NewFreeProxyWorldScraper 创建一个新的 FreeProxyWorldScraper 实例。
func NewFreeProxyWorldScraper(src types.Source, dl *Downloader) *FreeProxyWorldScraper {
	return &FreeProxyWorldScraper{source: src, dl: dl}
}

// Name 返回抓取器的名称。
func (s *FreeProxyWorldScraper) Name() string {
	return s.source.Name
}

// Scrape 执行抓取操作。
func (s *FreeProxyWorldScraper) Scrape(ctx context.Context) (*Result, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	body, err := s.dl.Get(ctx, s.source.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		l.Warn().Err(err).Str("url", s.source.URL).Str("source", s.Name()).Msg("Failed to parse HTML document.")
		return nil, err
	}

	proto := htmlProtocol(s.source.Kind)
	res := &Result{}
	doc.Find("table").First().Find("tr").Each(func(i int, sel *goquery.Selection) {
		if i == 0 {
			return // header
		}
		cols := sel.Find("td")
		if cols.Length() < 2 {
			return
		}
		ip := strings.TrimSpace(cols.Eq(0).Text())
		portStr := strings.TrimSpace(cols.Eq(1).Text())
		if ip == "" || portStr == "" {
			return
		}
		res.Received++

		port, err := strconv.Atoi(portStr)
		if err != nil || !model.ValidPort(port) {
			l.Debug().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse port, skipping row.")
			res.Invalid++
			return
		}
		res.Records = append(res.Records, &model.ProxyRecord{
			Protocol: proto,
			Address:  model.NormalizeAddress(ip),
			Port:     port,
		})
	})

	l.Debug().Int("count", len(res.Records)).Str("source", s.Name()).Msg("Scrape finished.")
	return res, nil
}
