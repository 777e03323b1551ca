// Package geo resolves the country of a proxy host. A local GeoLite2 database is consulted
// first when configured, then the public lookup services in order. Answers are cached per host.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/corpix/uarand"
	"github.com/oschwald/geoip2-golang"
	"golang.org/x/time/rate"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/stats"
)

// Service is one HTTP country lookup endpoint. URL contains the {ip} placeholder. JSONField
// names the field holding the ISO code; an empty JSONField means the body is the code itself.
type Service struct {
	Name      string
	URL       string
	JSONField string
}

// KnownServices are the lookup services selectable from geo.services.
var KnownServices = map[string]Service{
	"ip-api": {Name: "ip-api.com", URL: "http://ip-api.com/json/{ip}?fields=status,countryCode,query", JSONField: "countryCode"},
	"ipapi":  {Name: "ipapi.co", URL: "https://ipapi.co/{ip}/country/"},
	"ipinfo": {Name: "ipinfo.io", URL: "https://ipinfo.io/{ip}/country"},
}

// ServicesByName maps a comma separated list onto KnownServices, keeping its order.
func ServicesByName(list string) ([]Service, error) {
	var out []Service
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		svc, ok := KnownServices[name]
		if !ok {
			return nil, fmt.Errorf("unknown geo service %q", name)
		}
		out = append(out, svc)
	}
	return out, nil
}

// CountryDB is an offline IP to country database.
type CountryDB interface {
	Country(ip net.IP) (string, error)
}

// MMDB wraps a GeoLite2/GeoIP2 country database.
type MMDB struct {
	reader *geoip2.Reader
}

func OpenMMDB(path string) (*MMDB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MMDB{reader: r}, nil
}

func (d *MMDB) Country(ip net.IP) (string, error) {
	record, err := d.reader.Country(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (d *MMDB) Close() error {
	return d.reader.Close()
}

// Options configures a Resolver. Zero values fall back to sensible defaults.
type Options struct {
	DB         CountryDB
	Services   []Service
	Client     *http.Client
	MaxRetries int
	// Limiter paces requests to the HTTP services. nil means unlimited.
	Limiter *rate.Limiter
	// RateLimitWait is how long to back off after a 429.
	RateLimitWait time.Duration
	Counters      *stats.Counters
	// LookupHost resolves non-IP hosts. Defaults to net.DefaultResolver.LookupHost.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// Resolver 负责 IP 国家识别，带有线程安全的缓存。
type Resolver struct {
	opts  Options
	mu    sync.Mutex
	cache map[string]string
}

func NewResolver(opts Options) *Resolver {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 3 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = 3 * time.Second
	}
	if opts.Counters == nil {
		opts.Counters = &stats.Counters{}
	}
	if opts.LookupHost == nil {
		opts.LookupHost = net.DefaultResolver.LookupHost
	}
	return &Resolver{opts: opts, cache: make(map[string]string)}
}

// Resolve returns the ISO alpha-2 code of host, or model.UnknownCountry.
func (r *Resolver) Resolve(ctx context.Context, host string) string {
	host = strings.ToLower(strings.TrimSpace(host))

	r.mu.Lock()
	if country, ok := r.cache[host]; ok {
		r.mu.Unlock()
		r.opts.Counters.CacheHits.Add(1)
		return country
	}
	r.mu.Unlock()

	r.opts.Counters.IPChecks.Add(1)
	country := r.lookup(ctx, host)

	r.mu.Lock()
	r.cache[host] = country
	r.mu.Unlock()
	return country
}

func (r *Resolver) lookup(ctx context.Context, host string) string {
	l := logger.WithComponent("ProxyPool/Geo")

	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		addrs, err := r.opts.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			l.Debug().Err(err).Str("host", host).Msg("Failed to resolve host.")
			return model.UnknownCountry
		}
		ip = firstIP(addrs)
		if ip == nil {
			return model.UnknownCountry
		}
	}

	if IsPrivate(ip) {
		return model.UnknownCountry
	}

	if r.opts.DB != nil {
		if code, err := r.opts.DB.Country(ip); err == nil && len(code) == 2 {
			return strings.ToUpper(code)
		}
	}

	for _, svc := range r.opts.Services {
		if code, ok := r.queryService(ctx, svc, ip.String()); ok {
			return code
		}
		if ctx.Err() != nil {
			break
		}
	}
	return model.UnknownCountry
}

// queryService asks one service, up to MaxRetries times.
func (r *Resolver) queryService(ctx context.Context, svc Service, ip string) (string, bool) {
	l := logger.WithComponent("ProxyPool/Geo")
	r.opts.Counters.APIRequests.Add(1)

	url := strings.ReplaceAll(svc.URL, "{ip}", ip)
	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				break
			}
		}

		code, status, err := r.get(ctx, url, svc.JSONField)
		if err == nil && status == http.StatusOK && len(code) == 2 {
			return strings.ToUpper(code), true
		}
		if status == http.StatusTooManyRequests {
			l.Debug().Str("service", svc.Name).Msg("Rate limited, backing off.")
			t := time.NewTimer(r.opts.RateLimitWait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				r.opts.Counters.APIFailures.Add(1)
				return "", false
			}
		}
	}

	r.opts.Counters.APIFailures.Add(1)
	return "", false
}

func (r *Resolver) get(ctx context.Context, url, field string) (code string, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, err
	}

	if field == "" {
		return strings.TrimSpace(string(body)), resp.StatusCode, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", resp.StatusCode, err
	}
	value, _ := doc[field].(string)
	return strings.TrimSpace(value), resp.StatusCode, nil
}

// IsPrivate reports addresses no lookup service can place: private, loopback, link-local
// and unspecified ranges.
func IsPrivate(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func firstIP(addrs []string) net.IP {
	var fallback net.IP
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip
		}
		if fallback == nil {
			fallback = ip
		}
	}
	return fallback
}
