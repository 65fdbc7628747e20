// Package derive implements the Derive (Lyra) adapter.
package derive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	restBaseURL         = "https://api.lyra.finance"
	instrumentsEndpoint = "/public/get_all_instruments"
	fundingEndpoint     = "/public/get_funding_rate_history"

	fetchStep      = 720
	historyPeriod  = 3600 // seconds per funding point
	instrumentPage = 500
)

// Adapter talks to Derive's public JSON-RPC-over-POST endpoints. Funding
// history is sampled hourly.
type Adapter struct {
	exchange.HistoryPager
	http *fetch.Client
}

// New creates the Derive adapter.
func New(client *fetch.Client) *Adapter {
	a := &Adapter{http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return exchange.Derive
}

// FormatSymbol builds the instrument name ASSET-PERP.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	return c.AssetName + "-PERP"
}

type instrumentRecord struct {
	InstrumentName string `json:"instrument_name"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	IsActive       bool   `json:"is_active"`
	PerpDetails    struct {
		FundingRate string `json:"funding_rate"`
	} `json:"perp_details"`
}

func (a *Adapter) fetchInstruments(ctx context.Context) ([]instrumentRecord, error) {
	var all []instrumentRecord
	for page := 1; ; page++ {
		body := map[string]any{
			"instrument_type": "perp",
			"expired":         false,
			"currency":        nil,
			"page":            page,
			"page_size":       instrumentPage,
		}
		var resp struct {
			Result struct {
				Instruments []instrumentRecord `json:"instruments"`
			} `json:"result"`
		}
		if err := a.http.PostJSON(ctx, restBaseURL+instrumentsEndpoint, body, &resp); err != nil {
			return nil, fmt.Errorf("fetch instruments page %d: %w", page, err)
		}
		all = append(all, resp.Result.Instruments...)
		if len(resp.Result.Instruments) < instrumentPage {
			break
		}
	}
	return all, nil
}

// GetContracts pages through every perp instrument.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	instruments, err := a.fetchInstruments(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]exchange.ContractInfo, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.IsActive {
			continue
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       inst.BaseCurrency,
			Quote:           inst.QuoteCurrency,
			FundingInterval: 1,
			SectionName:     string(exchange.Derive),
		})
	}
	return infos, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	body := map[string]any{
		"instrument_name": a.FormatSymbol(c),
		"start_timestamp": startMS,
		"end_timestamp":   endMS,
		"period":          historyPeriod,
	}
	var resp struct {
		Result struct {
			FundingRateHistory []struct {
				Timestamp   int64  `json:"timestamp"`
				FundingRate string `json:"funding_rate"`
			} `json:"funding_rate_history"`
		} `json:"result"`
	}
	if err := a.http.PostJSON(ctx, restBaseURL+fundingEndpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(resp.Result.FundingRateHistory))
	for _, r := range resp.Result.FundingRateHistory {
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive projects the instrument list's perp funding details.
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	instruments, err := a.fetchInstruments(ctx)
	if err != nil {
		return nil, err
	}

	rateByName := make(map[string]decimal.Decimal, len(instruments))
	for _, inst := range instruments {
		if inst.PerpDetails.FundingRate == "" {
			continue
		}
		rate, err := decimal.NewFromString(inst.PerpDetails.FundingRate)
		if err != nil {
			continue
		}
		rateByName[inst.InstrumentName] = rate
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if rate, ok := rateByName[a.FormatSymbol(c)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate}
		}
	}
	return out, nil
}
