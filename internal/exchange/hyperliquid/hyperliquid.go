// Package hyperliquid implements the HyperLiquid adapter. The same API
// serves the main dex and builder-deployed dexes; the xyz commodities dex
// is exposed as a second adapter that remaps venue tickers and scopes every
// request with the dex name.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

const (
	infoURL   = "https://api.hyperliquid.xyz/info"
	fetchStep = 498
)

// xyzAssetBySymbol maps xyz-dex venue tickers to stored asset names;
// xyzSymbolByAsset is the inverse used when formatting symbols.
var xyzAssetBySymbol = map[string]string{
	"GOLD":      "XAU",
	"SILVER":    "XAG",
	"PLATINUM":  "XPT",
	"COPPER":    "XCU",
	"ALUMINIUM": "XAL",
}

var xyzSymbolByAsset = func() map[string]string {
	m := make(map[string]string, len(xyzAssetBySymbol))
	for sym, asset := range xyzAssetBySymbol {
		m[asset] = sym
	}
	return m
}()

// Adapter serves one HyperLiquid dex.
type Adapter struct {
	exchange.HistoryPager
	id   exchange.ID
	dex  string // empty for the main dex
	http *fetch.Client
}

// New creates the main-dex adapter.
func New(client *fetch.Client) *Adapter {
	return newAdapter(exchange.HyperLiquid, "", client)
}

// NewXYZ creates the adapter for the xyz commodities dex.
func NewXYZ(client *fetch.Client) *Adapter {
	return newAdapter(exchange.HyperLiquidXYZ, "xyz", client)
}

func newAdapter(id exchange.ID, dex string, client *fetch.Client) *Adapter {
	a := &Adapter{id: id, dex: dex, http: client}
	a.HistoryPager = exchange.HistoryPager{Step: fetchStep, Fetch: a.fetchWindow}
	return a
}

// ID returns the exchange identifier.
func (a *Adapter) ID() exchange.ID {
	return a.id
}

// FormatSymbol returns the coin name used in history requests. Builder-dex
// coins carry a "dex:" prefix.
func (a *Adapter) FormatSymbol(c *model.Contract) string {
	if a.dex == "" {
		return c.AssetName
	}
	return a.dex + ":" + a.venueName(c.AssetName)
}

func (a *Adapter) venueName(asset string) string {
	if a.dex != "" {
		if sym, ok := xyzSymbolByAsset[asset]; ok {
			return sym
		}
	}
	return asset
}

// GetContracts lists the dex universe. Funding settles hourly on every
// HyperLiquid listing.
func (a *Adapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	body := map[string]any{"type": "meta"}
	if a.dex != "" {
		body["dex"] = a.dex
	}
	var meta struct {
		Universe []struct {
			Name       string `json:"name"`
			IsDelisted bool   `json:"isDelisted"`
		} `json:"universe"`
	}
	if err := a.http.PostJSON(ctx, infoURL, body, &meta); err != nil {
		return nil, fmt.Errorf("fetch universe: %w", err)
	}

	infos := make([]exchange.ContractInfo, 0, len(meta.Universe))
	for _, u := range meta.Universe {
		if u.IsDelisted {
			continue
		}
		asset := u.Name
		if a.dex != "" {
			if mapped, ok := xyzAssetBySymbol[asset]; ok {
				asset = mapped
			}
		}
		infos = append(infos, exchange.ContractInfo{
			AssetName:       asset,
			Quote:           "USD",
			FundingInterval: 1,
			SectionName:     string(a.id),
		})
	}
	return infos, nil
}

func (a *Adapter) fetchWindow(ctx context.Context, c *model.Contract, startMS, endMS int64) ([]exchange.FundingPoint, error) {
	body := map[string]any{
		"type":      "fundingHistory",
		"coin":      a.FormatSymbol(c),
		"startTime": startMS,
		"endTime":   endMS,
	}
	var records []struct {
		FundingRate string `json:"fundingRate"`
		Time        int64  `json:"time"`
	}
	if err := a.http.PostJSON(ctx, infoURL, body, &records); err != nil {
		return nil, fmt.Errorf("fetch funding history for %s: %w", c.Label(), err)
	}

	points := make([]exchange.FundingPoint, 0, len(records))
	for _, r := range records {
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return nil, fmt.Errorf("parse funding rate %q: %w", r.FundingRate, err)
		}
		points = append(points, exchange.FundingPoint{
			Timestamp: time.UnixMilli(r.Time).UTC(),
			Rate:      rate,
		})
	}
	return points, nil
}

// FetchLive reads the whole dex in one metaAndAssetCtxs call. The response
// is a two-element array whose halves are parallel: universe[i] describes
// the asset whose context sits at assetCtxs[i].
func (a *Adapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	body := map[string]any{"type": "metaAndAssetCtxs"}
	if a.dex != "" {
		body["dex"] = a.dex
	}
	var payload []json.RawMessage
	if err := a.http.PostJSON(ctx, infoURL, body, &payload); err != nil {
		return nil, fmt.Errorf("fetch asset contexts: %w", err)
	}
	if len(payload) != 2 {
		return nil, fmt.Errorf("unexpected asset context payload: %d elements", len(payload))
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var assetCtxs []struct {
		Funding string `json:"funding"`
	}
	if err := json.Unmarshal(payload[1], &assetCtxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}

	rateBySymbol := make(map[string]decimal.Decimal, len(meta.Universe))
	for i, u := range meta.Universe {
		if i >= len(assetCtxs) {
			break
		}
		rate, err := decimal.NewFromString(assetCtxs[i].Funding)
		if err != nil {
			continue
		}
		rateBySymbol[u.Name] = rate
	}

	now := time.Now().UTC()
	out := make(map[uuid.UUID]exchange.FundingPoint, len(contracts))
	for _, c := range contracts {
		if rate, ok := rateBySymbol[a.venueName(c.AssetName)]; ok {
			out[c.ID] = exchange.FundingPoint{Timestamp: now, Rate: rate}
		}
	}
	return out, nil
}
