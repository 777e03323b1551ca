package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/parser"
)

// geonodeResponse is the proxylist.geonode.com API document.
type geonodeResponse struct {
	Data []struct {
		IP        string          `json:"ip"`
		Port      json.RawMessage `json:"port"`
		Protocols []string        `json:"protocols"`
		Country   string          `json:"country"`
	} `json:"data"`
}

// GeonodeScraper reads the geonode JSON API. The API already reports a country per entry.
type GeonodeScraper struct {
	source types.Source
	dl     *Downloader
}

func NewGeonodeScraper(src types.Source, dl *Downloader) *GeonodeScraper {
	return &GeonodeScraper{source: src, dl: dl}
}

func (s *GeonodeScraper) Name() string {
	return s.source.Name
}

func (s *GeonodeScraper) Scrape(ctx context.Context) (*Result, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	body, err := s.dl.Get(ctx, s.source.URL)
	if err != nil {
		return nil, err
	}

	var doc geonodeResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode geonode response: %w", err)
	}

	res := &Result{Received: len(doc.Data)}
	for _, entry := range doc.Data {
		ip := strings.TrimSpace(entry.IP)
		port, err := strconv.Atoi(strings.Trim(strings.TrimSpace(string(entry.Port)), `"`))
		if !parser.IsIPv4(ip) || err != nil || !model.ValidPort(port) {
			res.Invalid++
			continue
		}

		proto, ok := pickProtocol(entry.Protocols)
		if !ok {
			res.Invalid++
			continue
		}
		res.Records = append(res.Records, &model.ProxyRecord{
			Protocol: proto,
			Address:  ip,
			Port:     port,
			Country:  strings.ToUpper(strings.TrimSpace(entry.Country)),
		})
	}

	l.Debug().Int("count", len(res.Records)).Int("invalid", res.Invalid).Str("source", s.Name()).Msg("Geonode source parsed.")
	return res, nil
}

// pickProtocol prefers socks5 over http when an entry lists both. socks4 is not supported.
func pickProtocol(protocols []string) (model.Protocol, bool) {
	var found model.Protocol
	for _, raw := range protocols {
		p, ok := model.ParseProtocol(raw)
		if !ok {
			continue
		}
		switch p {
		case model.ProtoSOCKS5:
			return p, true
		case model.ProtoHTTP:
			found = p
		}
	}
	return found, found != ""
}
