// Package paradex implements the Paradex adapter. The venue emits a
// funding record roughly every five seconds carrying the cumulative
// 8-hour rate, so history is built by bucketing raw records into hours,
// averaging each bucket, and dividing by eight; one stored point per
// completed hour, labeled with the bucket's end.
//
// The live sampler feeds an hour-bucketed cache per contract. The forward
// history path prefers a sufficiently sampled cache bucket over an HTTP
// walk, consuming it on first use.
package paradex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL     = "https://api.prod.paradex.trade"
	marketsEndpoint = "/v1/markets"
	summaryEndpoint = "/v1/markets/summary"
	fundingEndpoint = "/v1/funding/data"

	fetchStep        = 6
	pageSize         = 5000
	minCachedSamples = 50
)

var cumulativeHours = decimal.NewFromInt(8)

type bucketKey struct {
	contractID uuid.UUID
	hourStart  int64 // unix ms
}

// Adapter talks to Paradex's public API.
type Adapter struct {
	http *fetch.Client

	mu      sync.Mutex
	samples map[bucketKey][]decimal.Decimal
}

// New creates the Paradex adapter.
func New(client *fetch.Client) *Adapter {
	return &Adapter{http: client, samples: make(map[bucketKey][]decimal.Decimal)}
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Paradex
}

// FetchStep returns the window width in hours. Six hours keeps one walk
// under ~4500 raw records.
func (a *Adapter) FetchStep() int {
	return fetchStep
}

// FormatSymbol builds the market name ASSET-QUOTE-PERP.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "-" + c.QuoteName + "-PERP"
}

// GetContracts lists perpetual markets. Stored points are hourly, so the
// funding interval is one hour regardless of the venue's 8h rate basis.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	var resp struct {
		Results []struct {
			Symbol        string `json:"symbol"`
			BaseCurrency  string `json:"base_currency"`
			QuoteCurrency string `json:"quote_currency"`
			AssetKind     string `json:"asset_kind"`
		} `json:"results"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+marketsEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	infos := make([]exchange.ContractInfo, 0, len(resp.Results))
	for _, m := range resp.Results {
		if m.AssetKind != "PERP" {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       m.BaseCurrency,
			Quote:           m.QuoteCurrency,
			FundingInterval: 1,
			SectionName:     string(exchange.Paradex),
		})
	}
	return infos, nil
}

// FetchHistoryBefore fetches and buckets the window ending at the cutoff.
func (a *Adapter) FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]exchange.FundingPoint, error) {
	end := time.Now().UTC()
	if before != nil {
		end = before.UTC()
	}
	start := end.Add(-fetchStep * time.Hour)

	raw, err := a.fetchRaw(ctx, c, start, end)
	if err != nil {
		return nil, err
	}
	return bucketize(raw, func(label time.Time) bool {
		return label.Before(end)
	}), nil
}

// FetchHistoryAfter prefers the live sampler's cache bucket for the hour
// the cutoff falls in; with enough samples and the hour completed, the
// bucket is consumed and becomes the single returned point. Otherwise the
// HTTP walk covers the window.
func (a *Adapter) FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]exchange.FundingPoint, error) {
	after = after.UTC()
	now := time.Now().UTC()

	hourStart := after.Truncate(time.Hour)
	if point, ok := a.consumeBucket(c.ID, hourStart, now); ok {
		return []exchange.FundingPoint{point}, nil
	}

	end := after.Add(fetchStep * time.Hour)
	raw, err := a.fetchRaw(ctx, c, after, end)
	if err != nil {
		return nil, err
	}
	a.pruneBuckets(c.ID, hourStart)
	return bucketize(raw, func(label time.Time) bool {
		return label.After(after) && !label.After(now)
	}), nil
}

func (a *Adapter) consumeBucket(contractID uuid.UUID, hourStart, now time.Time) (exchange.FundingPoint, bool) {
	if now.Before(hourStart.Add(time.Hour)) {
		return exchange.FundingPoint{}, false
	}

	key := bucketKey{contractID: contractID, hourStart: hourStart.UnixMilli()}
	a.mu.Lock()
	defer a.mu.Unlock()

	rates, ok := a.samples[key]
	if !ok || len(rates) < minCachedSamples {
		return exchange.FundingPoint{}, false
	}
	delete(a.samples, key)

	return exchange.FundingPoint{
		Timestamp: hourStart.Add(time.Hour),
		Rate:      average(rates).Div(cumulativeHours),
	}, true
}

// pruneBuckets drops cache entries the forward history walk has crossed.
func (a *Adapter) pruneBuckets(contractID uuid.UUID, upTo time.Time) {
	cutoffMS := upTo.UnixMilli()
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.samples {
		if key.contractID == contractID && key.hourStart < cutoffMS {
			delete(a.samples, key)
		}
	}
}

type rawSample struct {
	ts   time.Time
	rate decimal.Decimal
}

// fetchRaw pages through the funding data for [start, end] following the
// next-cursor until it runs out.
func (a *Adapter) fetchRaw(ctx context.Context, c *model.Contract, start, end time.Time) ([]rawSample, error) {
	var raw []rawSample
	cursor := ""
	for {
		params := url.Values{
			"market":    {a.FormatSymbol(c)},
			"start_at":  {strconv.FormatInt(start.UnixMilli(), 10)},
			"end_at":    {strconv.FormatInt(end.UnixMilli(), 10)},
			"page_size": {strconv.Itoa(pageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp struct {
			Next    string `json:"next"`
			Results []struct {
				FundingRate string `json:"funding_rate"`
				CreatedAt   int64  `json:"created_at"`
			} `json:"results"`
		}
		if err := a.http.GetJSON(ctx, restBaseURL+fundingEndpoint, params, &resp); err != nil {
			return nil, fmt.Errorf("fetch funding data for %s: %w", c.Label(), err)
		}
		for _, r := range resp.Results {
			rate, err := decimal.NewFromString(r.FundingRate)
			if err != nil {
				return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
			}
			raw = append(raw, rawSample{ts: time.UnixMilli(r.CreatedAt).UTC(), rate: rate})
		}
		if resp.Next == "" || len(resp.Results) == 0 {
			break
		}
		cursor = resp.Next
	}
	return raw, nil
}

// bucketize groups raw samples by hour, averages each bucket, divides by
// the venue's 8h rate basis, and labels the point with the bucket end.
// Only labels accepted by keep are emitted.
func bucketize(raw []rawSample, keep func(label time.Time) bool) []exchange.FundingPoint {
	groups := make(map[int64][]decimal.Decimal)
	for _, s := range raw {
		hourStart := s.ts.Truncate(time.Hour).UnixMilli()
		groups[hourStart] = append(groups[hourStart], s.rate)
	}

	points := make([]exchange.FundingPoint, 0, len(groups))
	for hourStartMS, rates := range groups {
		label := time.UnixMilli(hourStartMS).UTC().Add(time.Hour)
		if !keep(label) {
			continue
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: label,
			Rate:      average(rates).Div(cumulativeHours),
		})
	}
	return points
}

func average(rates []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rates {
		sum = sum.Add(r)
	}
	return sum.Div(decimal.NewFromInt(int64(len(rates))))
}

// FetchLive reads the venue-wide summary, feeds each sample into the
// hour-bucket cache, and returns per-hour rates for the stored rows.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	params := url.Values{"market": {"ALL"}}
	var resp struct {
		Results []struct {
			Symbol      string `json:"symbol"`
			FundingRate string `json:"funding_rate"`
			CreatedAt   int64  `json:"created_at"`
		} `json:"results"`
	}
	if err := a.http.GetJSON(ctx, restBaseURL+summaryEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch market summary: %w", err)
	}

	type sample struct {
		rate decimal.Decimal
		ts   time.Time
	}
	bySymbol := make(map[string]sample, len(resp.Results))
	now := time.Now().UTC()
	for _, r := range resp.Results {
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			continue
		}
		ts := now
		if r.CreatedAt > 0 {
			ts = time.UnixMilli(r.CreatedAt).UTC()
		}
		bySymbol[r.Symbol] = sample{rate: rate, ts: ts}
	}

	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		s, ok := bySymbol[a.FormatSymbol(c)]
		if !ok {
			continue
		}
		a.recordSample(c.ID, s.ts, s.rate)
		out[c.ID] = exchange.FundingPoint{Timestamp: s.ts, Rate: s.rate.Div(cumulativeHours)}
	}
	return out, nil
}

func (a *Adapter) recordSample(contractID uuid.UUID, ts time.Time, rate decimal.Decimal) {
	key := bucketKey{contractID: contractID, hourStart: ts.Truncate(time.Hour).UnixMilli()}
	a.mu.Lock()
	a.samples[key] = append(a.samples[key], rate)
	a.mu.Unlock()
}
