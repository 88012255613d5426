package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ingestd/internal/apperr"
	"ingestd/internal/fetch"
	"ingestd/internal/model"
)

const (
	AlternativeMeName    = "alternativeme"
	AlternativeMeBaseURL = "https://api.alternative.me"
)

// JSONGetter is the subset of *fetch.Client the sources depend on.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) error
	GetJSONRetry(ctx context.Context, url string, out any, policy fetch.RetryPolicy) error
}

// AlternativeMe reads the free alternative.me crypto API.
type AlternativeMe struct {
	client  JSONGetter
	baseURL string
	now     func() time.Time
}

func NewAlternativeMe(client JSONGetter, baseURL string) *AlternativeMe {
	if baseURL == "" {
		baseURL = AlternativeMeBaseURL
	}
	return &AlternativeMe{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

func (a *AlternativeMe) Name() string { return AlternativeMeName }

func (a *AlternativeMe) Capabilities() []Capability {
	return []Capability{
		{Method: "get_fear_and_greed", Description: "Crypto Fear and Greed index", Handler: a.fearAndGreed},
		{Method: "get_global", Description: "Global market cap, volume and dominance", Handler: a.global},
		{Method: "get_ticker", Description: "Ticker quotes for one coin", Params: []string{"target"}, Handler: a.ticker},
	}
}

type altMetadata struct {
	Timestamp int64   `json:"timestamp"`
	Error     *string `json:"error"`
}

func (m altMetadata) err() error {
	if m.Error != nil && *m.Error != "" {
		return apperr.New(apperr.KindClient, "alternative.me api error: "+fetch.SanitizeBody([]byte(*m.Error)), nil)
	}
	return nil
}

type fngResponse struct {
	Name string `json:"name"`
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
		TimeUntilUpdate     string `json:"time_until_update"`
	} `json:"data"`
	Metadata altMetadata `json:"metadata"`
}

func (a *AlternativeMe) fearAndGreed(ctx context.Context, _ json.RawMessage) (Result, error) {
	var resp fngResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"/fng/?limit=1", &resp); err != nil {
		return Result{}, fmt.Errorf("get fear and greed: %w", err)
	}
	if err := resp.Metadata.err(); err != nil {
		return Result{}, err
	}
	now := a.now().UTC().Unix()
	var res Result
	for _, d := range resp.Data {
		v, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			continue
		}
		dataTS, err := strconv.ParseInt(d.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		res.Metrics = append(res.Metrics, model.Metric{
			Source:    AlternativeMeName,
			Name:      "fear_and_greed_index",
			Value:     v,
			Timestamp: now,
			Unit:      model.UnitIndex,
			Labels: map[string]string{
				"endpoint":       "get_fear_and_greed",
				"classification": d.ValueClassification,
				"data_timestamp": strconv.FormatInt(dataTS, 10),
			},
		})
		entry, err := model.NewStateEntry(model.StateKey(AlternativeMeName, "fear_and_greed"), map[string]any{
			"value":          v,
			"classification": d.ValueClassification,
			"data_timestamp": dataTS,
		}, 0)
		if err == nil {
			res.State = append(res.State, entry)
		}
	}
	return res, nil
}

type globalResponse struct {
	Data struct {
		ActiveCryptocurrencies int     `json:"active_cryptocurrencies"`
		ActiveMarkets          int     `json:"active_markets"`
		BitcoinDominance       float64 `json:"bitcoin_percentage_of_market_cap"`
		Quotes                 map[string]struct {
			TotalMarketCap float64 `json:"total_market_cap"`
			TotalVolume24h float64 `json:"total_volume_24h"`
		} `json:"quotes"`
		LastUpdated int64 `json:"last_updated"`
	} `json:"data"`
	Metadata altMetadata `json:"metadata"`
}

func (a *AlternativeMe) global(ctx context.Context, _ json.RawMessage) (Result, error) {
	var resp globalResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"/v2/global/", &resp); err != nil {
		return Result{}, fmt.Errorf("get global: %w", err)
	}
	if err := resp.Metadata.err(); err != nil {
		return Result{}, err
	}
	now := a.now().UTC().Unix()
	dataTS := strconv.FormatInt(resp.Data.LastUpdated, 10)
	mk := func(name string, v float64, unit model.MetricUnit) model.Metric {
		return model.Metric{
			Source:    AlternativeMeName,
			Name:      name,
			Value:     v,
			Timestamp: now,
			Unit:      unit,
			Labels:    map[string]string{"endpoint": "get_global", "data_timestamp": dataTS},
		}
	}
	out := []model.Metric{
		mk("active_cryptocurrencies", float64(resp.Data.ActiveCryptocurrencies), model.UnitCount),
		mk("active_markets", float64(resp.Data.ActiveMarkets), model.UnitCount),
		mk("bitcoin_dominance", resp.Data.BitcoinDominance, model.UnitPercent),
	}
	if q, ok := resp.Data.Quotes["USD"]; ok {
		out = append(out,
			mk("total_market_cap", q.TotalMarketCap, model.UnitUSD).WithLabel("currency", "USD"),
			mk("total_volume_24h", q.TotalVolume24h, model.UnitUSD).WithLabel("currency", "USD"),
		)
	}
	return Result{Metrics: out}, nil
}

type tickerQuote struct {
	Price            float64  `json:"price"`
	Volume24h        float64  `json:"volume_24h"`
	MarketCap        float64  `json:"market_cap"`
	PercentChange1h  *float64 `json:"percent_change_1h"`
	PercentChange24h *float64 `json:"percent_change_24h"`
	PercentChange7d  *float64 `json:"percent_change_7d"`
}

type tickerResponse struct {
	Data []struct {
		Name        string                 `json:"name"`
		Symbol      string                 `json:"symbol"`
		Quotes      map[string]tickerQuote `json:"quotes"`
		LastUpdated int64                  `json:"last_updated"`
	} `json:"data"`
	Metadata altMetadata `json:"metadata"`
}

type tickerParams struct {
	Target string `json:"target"`
}

func (a *AlternativeMe) ticker(ctx context.Context, params json.RawMessage) (Result, error) {
	var p tickerParams
	if err := decodeParams(params, &p); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(p.Target) == "" {
		return Result{}, apperr.Validation("get_ticker requires param %q", "target")
	}
	var resp tickerResponse
	u := fmt.Sprintf("%s/v2/ticker/%s/?structure=array", a.baseURL, url.PathEscape(p.Target))
	if err := a.client.GetJSON(ctx, u, &resp); err != nil {
		return Result{}, fmt.Errorf("get ticker %s: %w", p.Target, err)
	}
	if err := resp.Metadata.err(); err != nil {
		return Result{}, err
	}
	now := a.now().UTC().Unix()
	var out []model.Metric
	for _, t := range resp.Data {
		q, ok := t.Quotes["USD"]
		if !ok {
			continue
		}
		prefix := strings.ToLower(t.Symbol)
		mk := func(suffix string, v float64, unit model.MetricUnit) model.Metric {
			return model.Metric{
				Source:    AlternativeMeName,
				Name:      prefix + "_" + suffix,
				Value:     v,
				Timestamp: now,
				Unit:      unit,
				Labels: map[string]string{
					"endpoint":       "get_ticker",
					"symbol":         t.Symbol,
					"name":           t.Name,
					"currency":       "USD",
					"data_timestamp": strconv.FormatInt(t.LastUpdated, 10),
				},
			}
		}
		out = append(out,
			mk("price", q.Price, model.UnitUSD),
			mk("market_cap", q.MarketCap, model.UnitUSD),
			mk("volume_24h", q.Volume24h, model.UnitUSD),
		)
		if q.PercentChange1h != nil {
			out = append(out, mk("percent_change_1h", *q.PercentChange1h, model.UnitPercent))
		}
		if q.PercentChange24h != nil {
			out = append(out, mk("percent_change_24h", *q.PercentChange24h, model.UnitPercent))
		}
		if q.PercentChange7d != nil {
			out = append(out, mk("percent_change_7d", *q.PercentChange7d, model.UnitPercent))
		}
	}
	return Result{Metrics: out}, nil
}
