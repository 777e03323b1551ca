package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
)

// Scraper 接口定义了从代理源抓取代理信息的行为。
type Scraper interface {
	// Scrape 执行抓取操作。实现者只负责抓取和初步解析，不做国家过滤和存活验证。
	Scrape(ctx context.Context) (*Result, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// Result is what one source produced.
type Result struct {
	Records []*model.ProxyRecord
	// Received counts every line or row the source returned, parsed or not.
	Received int
	// Invalid counts entries that looked like proxies but failed to parse.
	Invalid int
}

// New picks the scraper implementation for a source kind.
func New(src types.Source, dl *Downloader) (Scraper, error) {
	switch src.Kind {
	case types.SourceHTTP, types.SourceSOCKS5, types.SourceMixed,
		types.SourceVMess, types.SourceVLESS, types.SourceSS:
		return NewTextScraper(src, dl), nil
	case types.SourceJSONGeonode:
		return NewGeonodeScraper(src, dl), nil
	case types.SourceHTMLHTTP, types.SourceHTMLSOCKS5:
		if isFreeProxyWorld(src.URL) {
			return NewFreeProxyWorldScraper(src, dl), nil
		}
		return NewTableScraper(src, dl), nil
	}
	return nil, fmt.Errorf("no scraper for source type %q", src.Kind)
}

func isFreeProxyWorld(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, "freeproxy.world")
	}
	return strings.HasSuffix(u.Hostname(), "freeproxy.world")
}

// htmlProtocol maps an html-* kind onto the protocol of every row it lists.
func htmlProtocol(kind string) model.Protocol {
	if strings.Contains(kind, "socks5") {
		return model.ProtoSOCKS5
	}
	return model.ProtoHTTP
}
