package okx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"

	"aitrade/internal/coins"
	"aitrade/internal/logger"
	"aitrade/internal/types"
)

const (
	pathTickers = "/api/v5/market/tickers"
	pathCandles = "/api/v5/market/candles"
)

// PublicClient OKX 公共行情（无需签名），作为行情回退源。
type PublicClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPublicClient(baseURL string, timeout time.Duration) *PublicClient {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://www.okx.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PublicClient{baseURL: base, httpClient: &http.Client{Timeout: timeout}}
}

func (c *PublicClient) Name() string { return "okx" }

type tickerRow struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
}

// Tickers 一次拉取全部永续 ticker，24h 涨跌幅由 open24h 计算。
func (c *PublicClient) Tickers(ctx context.Context, list []string) (map[string]types.PriceQuote, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	var rows []tickerRow
	if err := c.get(ctx, pathTickers, q, &rows); err != nil {
		return nil, err
	}
	wanted := make(map[string]string, len(list))
	for _, coin := range list {
		wanted[coins.InstrumentID(coin)] = coins.Normalize(coin)
	}
	out := make(map[string]types.PriceQuote, len(list))
	for _, row := range rows {
		coin, ok := wanted[row.InstID]
		if !ok {
			continue
		}
		last := cast.ToFloat64(row.Last)
		if last <= 0 {
			continue
		}
		open := cast.ToFloat64(row.Open24h)
		change := 0.0
		if open > 0 {
			change = (last - open) / open * 100
		}
		out[coin] = types.PriceQuote{Price: last, Change24h: change}
	}
	return out, nil
}

// DailyCloses 日线收盘价（时间升序）。OKX 返回倒序，需要翻转。
func (c *PublicClient) DailyCloses(ctx context.Context, coin string, days int) ([]float64, error) {
	q := url.Values{}
	q.Set("instId", coins.InstrumentID(coin))
	q.Set("bar", "1D")
	q.Set("limit", cast.ToString(days))
	var rows [][]string
	if err := c.get(ctx, pathCandles, q, &rows); err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i]) < 5 {
			continue
		}
		closes = append(closes, cast.ToFloat64(rows[i][4]))
	}
	return closes, nil
}

func (c *PublicClient) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ExchangeError{Kind: KindTransport, Method: http.MethodGet, Path: path, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[okx] response body close failed: %v", cerr)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ExchangeError{Kind: KindTransport, Method: http.MethodGet, Path: path, Err: err}
	}
	if resp.StatusCode >= 300 {
		return &ExchangeError{Kind: KindHTTP, Method: http.MethodGet, Path: path, HTTPStatus: resp.StatusCode, Msg: snippet(body)}
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &ExchangeError{Kind: KindDecode, Method: http.MethodGet, Path: path, Err: err}
	}
	if kind := classifyCode(env.Code); kind != "" {
		return &ExchangeError{Kind: kind, Method: http.MethodGet, Path: path, Code: env.Code, Msg: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ExchangeError{Kind: KindDecode, Method: http.MethodGet, Path: path, Err: err}
	}
	return nil
}
