package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"irproxy_pool/internal/shared/types"
	"irproxy_pool/proxypool/model"
)

func newTestDownloader(retries int) *Downloader {
	dl := NewDownloader(5*time.Second, retries, 0, 0)
	dl.UserAgent = func() string { return "irproxy-test" }
	return dl
}

// flakyHandler fails the first `failures` requests with status, then serves body.
func flakyHandler(failures int32, status int, contentType, body string, hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(hits, 1)
		if n <= failures {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", contentType)
		fmt.Fprint(w, body)
	}
}

func TestDownloader_RetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(flakyHandler(2, http.StatusForbidden, "text/plain", "ok", &hits))
	defer srv.Close()

	body, err := newTestDownloader(3).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Expected success on the third attempt, got %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("Expected body 'ok', got %q", body)
	}
	if hits != 3 {
		t.Errorf("Expected 3 requests, got %d", hits)
	}
}

func TestDownloader_GivesUpAfterRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(flakyHandler(100, http.StatusServiceUnavailable, "text/plain", "", &hits))
	defer srv.Close()

	_, err := newTestDownloader(3).Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected a wrapped StatusError 503, got %v", err)
	}
	if hits != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", hits)
	}
}

func TestDownloader_SendsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	if _, err := newTestDownloader(1).Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotUA != "irproxy-test" {
		t.Errorf("Expected User-Agent irproxy-test, got %q", gotUA)
	}

	dl := NewDownloader(time.Second, 1, 0, 0)
	if _, err := dl.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotUA == "" || gotUA == "irproxy-test" {
		t.Errorf("Expected a random browser User-Agent, got %q", gotUA)
	}
}

func TestTextScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "5.160.1.1:1080\n5.160.1.2:1080\nbroken:line\n")
	}))
	defer srv.Close()

	s, err := New(types.Source{URL: srv.URL, Kind: types.SourceSOCKS5, Name: "list"}, newTestDownloader(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Name() != "list" {
		t.Errorf("Expected name 'list', got %q", s.Name())
	}

	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(res.Records) != 2 || res.Received != 3 || res.Invalid != 1 {
		t.Errorf("Expected 2 records / 3 received / 1 invalid, got %d / %d / %d", len(res.Records), res.Received, res.Invalid)
	}
	for _, p := range res.Records {
		if p.Protocol != model.ProtoSOCKS5 {
			t.Errorf("Expected socks5, got %s", p.Protocol)
		}
	}
}

const tablePage = `<html><body>
<table>
<tr><th>IP</th><th>Port</th></tr>
<tr><td>5.160.2.1</td><td>8080</td><td>Iran</td></tr>
<tr><td> 5.160.2.2 </td><td> 3128 </td></tr>
<tr><td>not-an-ip</td><td>80</td></tr>
<tr><td>5.160.2.3</td><td>99999</td></tr>
<tr><td>only-one-cell</td></tr>
</table>
</body></html>`

func TestTableScraper(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(flakyHandler(1, http.StatusInternalServerError, "text/html; charset=utf-8", tablePage, &hits))
	defer srv.Close()

	s, err := New(types.Source{URL: srv.URL + "/ir-sock5-proxy-list.html", Kind: types.SourceHTMLSOCKS5, Name: "table"}, newTestDownloader(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*TableScraper); !ok {
		t.Fatalf("Expected a TableScraper, got %T", s)
	}

	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("Expected one retry (2 requests), got %d", hits)
	}
	if len(res.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(res.Records))
	}
	if res.Invalid != 1 {
		t.Errorf("Expected 1 invalid row, got %d", res.Invalid)
	}
	if res.Records[1].Address != "5.160.2.2" || res.Records[1].Port != 3128 {
		t.Errorf("Unexpected second record %s:%d", res.Records[1].Address, res.Records[1].Port)
	}
	for _, p := range res.Records {
		if p.Protocol != model.ProtoSOCKS5 {
			t.Errorf("Expected html-socks5 rows to be socks5, got %s", p.Protocol)
		}
	}
}

func TestTableScraper_Failure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(flakyHandler(100, http.StatusForbidden, "text/html", "", &hits))
	defer srv.Close()

	s := NewTableScraper(types.Source{URL: srv.URL, Kind: types.SourceHTMLHTTP, Name: "blocked"}, newTestDownloader(3))
	_, err := s.Scrape(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected a 403 StatusError, got %v", err)
	}
	if hits != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits)
	}
}

func TestFreeProxyWorldScraper(t *testing.T) {
	page := `<html><body>
<table>
<tr><td>IP</td><td>Port</td></tr>
<tr><td>5.160.3.1</td><td>8080</td></tr>
<tr><td>5.160.3.2</td><td>abc</td></tr>
</table>
<table><tr><td>5.160.9.9</td><td>1</td></tr></table>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	s := NewFreeProxyWorldScraper(types.Source{URL: srv.URL, Kind: types.SourceHTMLHTTP, Name: "fpw"}, newTestDownloader(1))
	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Address != "5.160.3.1" {
		t.Fatalf("Expected only 5.160.3.1 from the first table, got %+v", res.Records)
	}
	if res.Records[0].Protocol != model.ProtoHTTP {
		t.Errorf("Expected http, got %s", res.Records[0].Protocol)
	}
	if res.Received != 2 || res.Invalid != 1 {
		t.Errorf("Expected 2 received / 1 invalid, got %d / %d", res.Received, res.Invalid)
	}
}

func TestNew_PicksFreeProxyWorldByHost(t *testing.T) {
	s, err := New(types.Source{URL: "https://www.freeproxy.world/?type=socks5&country=IR", Kind: types.SourceHTMLSOCKS5}, newTestDownloader(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*FreeProxyWorldScraper); !ok {
		t.Errorf("Expected a FreeProxyWorldScraper, got %T", s)
	}
	if _, err := New(types.Source{URL: "https://x", Kind: "ftp"}, newTestDownloader(1)); err == nil {
		t.Error("Expected an error for an unknown kind")
	}
}

func TestGeonodeScraper(t *testing.T) {
	body := `{"data":[
{"ip":"5.160.4.1","port":"1080","protocols":["socks4","socks5"],"country":"ir"},
{"ip":"5.160.4.2","port":8080,"protocols":["http","https"],"country":"IR"},
{"ip":"5.160.4.3","port":"1080","protocols":["socks4"],"country":"IR"},
{"ip":"bad","port":"1","protocols":["http"]}
]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	s := NewGeonodeScraper(types.Source{URL: srv.URL, Kind: types.SourceJSONGeonode, Name: "geonode"}, newTestDownloader(1))
	res, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if res.Received != 4 || res.Invalid != 2 || len(res.Records) != 2 {
		t.Fatalf("Expected 4 received / 2 invalid / 2 records, got %d / %d / %d", res.Received, res.Invalid, len(res.Records))
	}
	if res.Records[0].Protocol != model.ProtoSOCKS5 || res.Records[0].Country != "IR" {
		t.Errorf("Unexpected first record %+v", res.Records[0])
	}
	if res.Records[1].Protocol != model.ProtoHTTP || res.Records[1].Port != 8080 {
		t.Errorf("Unexpected second record %+v", res.Records[1])
	}
}
