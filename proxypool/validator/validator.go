package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/stats"
)

const (
	// DefaultValidationTarget is dialled through the proxy in handshake mode.
	DefaultValidationTarget = "www.gstatic.com:443"

	ModeTCP       = "tcp"
	ModeHandshake = "handshake"
)

// Validator 负责代理存活探测。
//
// tcp 模式只测量到代理端口的 TCP 建连时间；handshake 模式对 http 代理做 HTTP CONNECT，
// 对 socks5 代理做 SOCKS5 握手，其余协议退回 TCP 建连。
type Validator struct {
	timeout     time.Duration
	concurrency int
	mode        string
	// Target is the host:port requested through the proxy in handshake mode.
	Target   string
	counters *stats.Counters
}

func NewValidator(timeout time.Duration, concurrency int, mode string, counters *stats.Counters) *Validator {
	if concurrency <= 0 {
		concurrency = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if mode == "" {
		mode = ModeTCP
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	return &Validator{
		timeout:     timeout,
		concurrency: concurrency,
		mode:        mode,
		Target:      DefaultValidationTarget,
		counters:    counters,
	}
}

// ProbeAll probes every record on a bounded worker pool and stamps the result with day.
// It returns how many records answered.
func (v *Validator) ProbeAll(ctx context.Context, records []*model.ProxyRecord, day string) int {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(records) == 0 {
		return 0
	}

	l.Debug().Int("count", len(records)).Int("concurrency", v.concurrency).Str("mode", v.mode).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	var mu sync.Mutex
	alive := 0
	semaphore := make(chan struct{}, v.concurrency)

	for _, p := range records {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(rec *model.ProxyRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			ok, ping := v.Probe(ctx, rec)
			rec.SetProbe(ok, ping, day)
			if ok {
				mu.Lock()
				alive++
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	l.Debug().Int("alive", alive).Int("count", len(records)).Msg("Validation batch finished.")
	return alive
}

// Probe checks a single record and returns the round trip in milliseconds when it is alive.
func (v *Validator) Probe(ctx context.Context, p *model.ProxyRecord) (bool, int) {
	start := time.Now()

	var err error
	if v.mode == ModeHandshake {
		switch p.Protocol {
		case model.ProtoSOCKS5:
			err = v.checkSocks5Connect(ctx, p)
		case model.ProtoHTTP:
			err = v.checkHttpConnect(ctx, p)
		default:
			err = v.checkTCP(ctx, p)
		}
	} else {
		err = v.checkTCP(ctx, p)
	}

	if err != nil {
		v.counters.InactiveFound.Add(1)
		return false, 0
	}
	v.counters.ActiveFound.Add(1)

	ms := int(time.Since(start).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return true, ms
}

// checkTCP opens and closes a TCP connection to the proxy itself.
func (v *Validator) checkTCP(ctx context.Context, p *model.ProxyRecord) error {
	dialer := &net.Dialer{Timeout: v.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.HostPort())
	if err != nil {
		return err
	}
	return conn.Close()
}

// checkHttpConnect validates a proxy by attempting an HTTP CONNECT request.
func (v *Validator) checkHttpConnect(ctx context.Context, p *model.ProxyRecord) error {
	l := logger.WithComponent("ProxyPool/Validator")
	proxyURL, err := url.Parse("http://" + p.HostPort())
	if err != nil {
		l.Debug().Err(err).Str("proxy", p.Key().String()).Msg("Invalid HTTP proxy URL format.")
		return err
	}

	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       v.timeout,
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+v.Target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5Connect validates a proxy by attempting a SOCKS5 connection.
func (v *Validator) checkSocks5Connect(ctx context.Context, p *model.ProxyRecord) error {
	dialer, err := proxy.SOCKS5("tcp", p.HostPort(), nil, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", v.Target)
	if err != nil {
		return err
	}
	return conn.Close()
}
