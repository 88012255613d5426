package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ingestd/internal/apperr"
	"ingestd/internal/fetch"
	"ingestd/internal/model"
)

const (
	PolymarketName    = "polymarket"
	PolymarketBaseURL = "https://data-api.polymarket.com"
)

var marketIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Polymarket reads holder and open-interest data. Both endpoints are rate limited upstream, so they
// go through the call-site retry loop.
type Polymarket struct {
	client  JSONGetter
	baseURL string
	retry   fetch.RetryPolicy
	now     func() time.Time
}

func NewPolymarket(client JSONGetter, baseURL string, retry fetch.RetryPolicy) *Polymarket {
	if baseURL == "" {
		baseURL = PolymarketBaseURL
	}
	return &Polymarket{client: client, baseURL: strings.TrimRight(baseURL, "/"), retry: retry, now: time.Now}
}

func (p *Polymarket) Name() string { return PolymarketName }

func (p *Polymarket) Capabilities() []Capability {
	return []Capability{
		{Method: "get_holders", Description: "Top holders per outcome token", Params: []string{"market", "limit", "min_balance"}, Handler: p.holders},
		{Method: "get_open_interest", Description: "Open interest per market", Params: []string{"market"}, Handler: p.openInterest},
	}
}

type holdersParams struct {
	Market     string `json:"market"`
	Limit      *int   `json:"limit"`
	MinBalance *int   `json:"min_balance"`
}

func (h holdersParams) validate() error {
	if !marketIDPattern.MatchString(h.Market) {
		return apperr.Validation("market must be a 0x-prefixed 32 byte hex id, got %q", h.Market)
	}
	if h.Limit != nil && (*h.Limit < 1 || *h.Limit > 500) {
		return apperr.Validation("limit must be between 1 and 500")
	}
	if h.MinBalance != nil && *h.MinBalance < 0 {
		return apperr.Validation("min_balance must not be negative")
	}
	return nil
}

type holder struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Amount       float64 `json:"amount"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Name         string  `json:"name"`
	Pseudonym    string  `json:"pseudonym"`
}

type tokenHolders struct {
	Token   string   `json:"token"`
	Holders []holder `json:"holders"`
}

func (p *Polymarket) holders(ctx context.Context, params json.RawMessage) (Result, error) {
	var hp holdersParams
	if err := decodeParams(params, &hp); err != nil {
		return Result{}, err
	}
	if err := hp.validate(); err != nil {
		return Result{}, err
	}
	q := url.Values{}
	q.Set("market", hp.Market)
	if hp.Limit != nil {
		q.Set("limit", strconv.Itoa(*hp.Limit))
	}
	if hp.MinBalance != nil {
		q.Set("minBalance", strconv.Itoa(*hp.MinBalance))
	}
	var resp []tokenHolders
	if err := p.client.GetJSONRetry(ctx, p.baseURL+"/holders?"+q.Encode(), &resp, p.retry); err != nil {
		return Result{}, fmt.Errorf("get holders %s: %w", hp.Market, err)
	}

	now := p.now().UTC().Unix()
	var res Result
	for _, th := range resp {
		var total float64
		outcome := -1
		for _, h := range th.Holders {
			total += h.Amount
			outcome = h.OutcomeIndex
		}
		labels := map[string]string{
			"endpoint": "get_holders",
			"market":   hp.Market,
			"token":    th.Token,
		}
		if outcome >= 0 {
			labels["outcome_index"] = strconv.Itoa(outcome)
		}
		res.Metrics = append(res.Metrics,
			model.Metric{Source: PolymarketName, Name: "top_holders_count", Value: float64(len(th.Holders)), Timestamp: now, Unit: model.UnitCount, Labels: labels},
			model.Metric{Source: PolymarketName, Name: "top_holders_amount", Value: total, Timestamp: now, Unit: model.UnitCount, Labels: labels},
		)
	}
	entry, err := model.NewStateEntry(model.StateKey(PolymarketName, "holders:"+hp.Market), resp, 0)
	if err == nil {
		res.State = append(res.State, entry)
	}
	return res, nil
}

type oiParams struct {
	Market string `json:"market"`
}

type openInterest struct {
	Market string  `json:"market"`
	Value  float64 `json:"value"`
}

func (p *Polymarket) openInterest(ctx context.Context, params json.RawMessage) (Result, error) {
	var op oiParams
	if err := decodeParams(params, &op); err != nil {
		return Result{}, err
	}
	if !marketIDPattern.MatchString(op.Market) {
		return Result{}, apperr.Validation("market must be a 0x-prefixed 32 byte hex id, got %q", op.Market)
	}
	var resp []openInterest
	u := p.baseURL + "/oi?" + url.Values{"market": {op.Market}}.Encode()
	if err := p.client.GetJSONRetry(ctx, u, &resp, p.retry); err != nil {
		return Result{}, fmt.Errorf("get open interest %s: %w", op.Market, err)
	}
	now := p.now().UTC().Unix()
	var res Result
	for _, oi := range resp {
		res.Metrics = append(res.Metrics, model.Metric{
			Source:    PolymarketName,
			Name:      "open_interest",
			Value:     oi.Value,
			Timestamp: now,
			Unit:      model.UnitUSD,
			Labels:    map[string]string{"endpoint": "get_open_interest", "market": oi.Market},
		})
	}
	return res, nil
}
