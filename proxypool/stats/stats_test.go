package stats

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"irproxy_pool/proxypool/model"
)

func rec(i int, added, country string, active bool, proto model.Protocol) *model.ProxyRecord {
	return &model.ProxyRecord{
		Address:   fmt.Sprintf("5.160.0.%d", i),
		Port:      8080,
		Protocol:  proto,
		AddedDate: added,
		Country:   country,
		IsActive:  active,
	}
}

func TestAnalyze(t *testing.T) {
	now := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	pool := []*model.ProxyRecord{
		rec(1, "2026-10-15", "IR", true, model.ProtoHTTP),
		rec(2, "2026-10-15", "IR", false, model.ProtoHTTP),
		rec(3, "2026-10-14", "IR", true, model.ProtoSOCKS5),
		rec(4, "2026-10-13", "TR", true, model.ProtoVMess),
		rec(5, "2026-10-12", "DE", false, model.ProtoSS),
		rec(6, "2026-10-01", "", true, model.ProtoVLESS),
		rec(7, "garbage", "US", false, model.ProtoHTTP),
		rec(8, "2026-10-15", "FR", false, model.ProtoHTTP),
		rec(9, "2026-10-15", "NL", false, model.ProtoHTTP),
	}

	a := Analyze(pool, now)

	if a.Total != 9 || a.Active != 4 {
		t.Errorf("Expected total 9 / active 4, got %d / %d", a.Total, a.Active)
	}
	want := AgeBuckets{Today: 4, OneDay: 1, TwoDays: 1, ThreeDays: 1, Older: 2}
	if a.Ages != want {
		t.Errorf("Expected ages %+v, got %+v", want, a.Ages)
	}
	if a.OldestDate != "2026-10-01" || a.NewestDate != "2026-10-15" {
		t.Errorf("Expected date range 2026-10-01..2026-10-15, got %s..%s", a.OldestDate, a.NewestDate)
	}
	if len(a.TopCountries) != 5 {
		t.Fatalf("Expected top 5 countries, got %d", len(a.TopCountries))
	}
	if a.TopCountries[0] != (CountryCount{Country: "IR", Count: 3}) {
		t.Errorf("Expected IR first with 3, got %+v", a.TopCountries[0])
	}
	// Ties are ordered by country code.
	if a.TopCountries[1].Country != "DE" {
		t.Errorf("Expected DE second, got %+v", a.TopCountries[1])
	}
	if a.Protocols[model.ProtoHTTP] != 5 || a.Protocols[model.ProtoVLESS] != 1 {
		t.Errorf("Unexpected protocol breakdown: %v", a.Protocols)
	}
}

func TestAnalyze_FutureDateCountsAsToday(t *testing.T) {
	now := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	a := Analyze([]*model.ProxyRecord{rec(1, "2026-10-17", "IR", true, model.ProtoHTTP)}, now)
	if a.Ages != (AgeBuckets{Today: 1}) {
		t.Errorf("Expected a future date in the today bucket, got %+v", a.Ages)
	}
	if a.NewestDate != "2026-10-17" {
		t.Errorf("Expected newest date 2026-10-17, got %s", a.NewestDate)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	a := Analyze(nil, time.Now())
	if a.Total != 0 || a.OldestDate != "" || len(a.TopCountries) != 0 {
		t.Errorf("Expected an empty analysis, got %+v", a)
	}
}

func TestCounters_Snapshot(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IPChecks.Add(1)
			c.CacheHits.Add(2)
		}()
	}
	wg.Wait()
	c.SourcesFailed.Add(3)

	s := c.Snapshot()
	if s.IPChecks != 50 || s.CacheHits != 100 || s.SourcesFailed != 3 {
		t.Errorf("Unexpected snapshot %+v", s)
	}

	var nilCounters *Counters
	if nilCounters.Snapshot() != (Snapshot{}) {
		t.Error("Expected a zero snapshot from nil counters")
	}
}
