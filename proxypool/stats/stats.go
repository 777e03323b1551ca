// Package stats holds the run counters and the pool analysis printed at the end of a run.
package stats

import (
	"sort"
	"sync/atomic"
	"time"

	"irproxy_pool/proxypool/model"
)

// Counters 记录一次运行中的统计数据。各字段可并发累加。
type Counters struct {
	Received       atomic.Int64
	TargetCountry  atomic.Int64
	NonTarget      atomic.Int64
	ActiveFound    atomic.Int64
	InactiveFound  atomic.Int64
	Duplicates     atomic.Int64
	Added          atomic.Int64
	Removed        atomic.Int64
	IPChecks       atomic.Int64
	CacheHits      atomic.Int64
	APIRequests    atomic.Int64
	APIFailures    atomic.Int64
	SourcesUsed    atomic.Int64
	SourcesFailed  atomic.Int64
	OldLogsDeleted atomic.Int64
}

// Snapshot is a point-in-time copy of Counters, suitable for logging and JSON.
type Snapshot struct {
	Received       int64 `json:"received"`
	TargetCountry  int64 `json:"target_country"`
	NonTarget      int64 `json:"non_target"`
	ActiveFound    int64 `json:"active_found"`
	InactiveFound  int64 `json:"inactive_found"`
	Duplicates     int64 `json:"duplicates"`
	Added          int64 `json:"added"`
	Removed        int64 `json:"removed"`
	IPChecks       int64 `json:"ip_checks"`
	CacheHits      int64 `json:"cache_hits"`
	APIRequests    int64 `json:"api_requests"`
	APIFailures    int64 `json:"api_failures"`
	SourcesUsed    int64 `json:"sources_used"`
	SourcesFailed  int64 `json:"sources_failed"`
	OldLogsDeleted int64 `json:"old_logs_deleted"`
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		Received:       c.Received.Load(),
		TargetCountry:  c.TargetCountry.Load(),
		NonTarget:      c.NonTarget.Load(),
		ActiveFound:    c.ActiveFound.Load(),
		InactiveFound:  c.InactiveFound.Load(),
		Duplicates:     c.Duplicates.Load(),
		Added:          c.Added.Load(),
		Removed:        c.Removed.Load(),
		IPChecks:       c.IPChecks.Load(),
		CacheHits:      c.CacheHits.Load(),
		APIRequests:    c.APIRequests.Load(),
		APIFailures:    c.APIFailures.Load(),
		SourcesUsed:    c.SourcesUsed.Load(),
		SourcesFailed:  c.SourcesFailed.Load(),
		OldLogsDeleted: c.OldLogsDeleted.Load(),
	}
}

// AgeBuckets counts records by whole days since added_date. Unparsable dates land in Older.
type AgeBuckets struct {
	Today     int `json:"today"`
	OneDay    int `json:"one_day"`
	TwoDays   int `json:"two_days"`
	ThreeDays int `json:"three_days"`
	Older     int `json:"older"`
}

// CountryCount is one row of the country breakdown.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Analysis describes a pool.
type Analysis struct {
	Total        int                    `json:"total"`
	Active       int                    `json:"active"`
	Ages         AgeBuckets             `json:"ages"`
	TopCountries []CountryCount         `json:"top_countries"`
	Protocols    map[model.Protocol]int `json:"protocols"`
	OldestDate   string                 `json:"oldest_date,omitempty"`
	NewestDate   string                 `json:"newest_date,omitempty"`
}

const topCountries = 5

// Analyze computes the pool breakdown relative to now's calendar date.
func Analyze(pool []*model.ProxyRecord, now time.Time) Analysis {
	a := Analysis{
		Total:     len(pool),
		Protocols: make(map[model.Protocol]int),
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	countries := make(map[string]int)
	var oldest, newest time.Time

	for _, p := range pool {
		if p.IsActive {
			a.Active++
		}
		a.Protocols[p.Protocol]++

		country := p.Country
		if country == "" {
			country = model.UnknownCountry
		}
		countries[country]++

		added, ok := p.Added()
		if !ok {
			a.Ages.Older++
			continue
		}
		days := int(today.Sub(added).Hours() / 24)
		if days < 0 {
			// a future added_date counts as today
			days = 0
		}
		switch days {
		case 0:
			a.Ages.Today++
		case 1:
			a.Ages.OneDay++
		case 2:
			a.Ages.TwoDays++
		case 3:
			a.Ages.ThreeDays++
		default:
			a.Ages.Older++
		}
		if oldest.IsZero() || added.Before(oldest) {
			oldest = added
		}
		if newest.IsZero() || added.After(newest) {
			newest = added
		}
	}

	for c, n := range countries {
		a.TopCountries = append(a.TopCountries, CountryCount{Country: c, Count: n})
	}
	sort.Slice(a.TopCountries, func(i, j int) bool {
		if a.TopCountries[i].Count != a.TopCountries[j].Count {
			return a.TopCountries[i].Count > a.TopCountries[j].Count
		}
		return a.TopCountries[i].Country < a.TopCountries[j].Country
	})
	if len(a.TopCountries) > topCountries {
		a.TopCountries = a.TopCountries[:topCountries]
	}

	if !oldest.IsZero() {
		a.OldestDate = model.Today(oldest)
		a.NewestDate = model.Today(newest)
	}
	return a
}
