// Package okx 实现 OKX v5 私有 REST 接口：签名、限频、重试、错误分类与类型化操作。
package okx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"aitrade/internal/pkg/cache"
	"aitrade/internal/types"
)

const (
	defaultCacheTTL         = 5 * time.Second
	defaultAccountConfigTTL = 5 * time.Minute
	defaultRulesTTL         = 6 * time.Hour

	cacheKeyBalance   = "balance"
	cacheKeyPositions = "positions"
	cacheKeyConfig    = "config"
)

// Options 构造 Client 的参数，全部可选（凭证除外）。
type Options struct {
	BaseURL           string
	Credentials       types.OKXCredentials
	Timeout           time.Duration
	MaxAttempts       int
	DefaultRetryAfter time.Duration
	Limits            RateLimits
	CacheTTL          time.Duration
	AccountConfigTTL  time.Duration
	Observer          Observer
	HTTPClient        *http.Client
}

// Client 单个交易账户的 OKX 客户端。余额与持仓短缓存，账户配置长缓存。
type Client struct {
	pipe *Pipeline

	balance   *cache.Cache[string, types.Balance]
	positions *cache.Cache[string, []types.Position]
	config    *cache.Cache[string, AccountConfig]
	rules     *cache.Cache[string, InstrumentRules]

	newClientOrderID func() string
}

func NewClient(opts Options) (*Client, error) {
	pipe, err := NewPipeline(PipelineOptions{
		BaseURL:           opts.BaseURL,
		Credentials:       opts.Credentials,
		Timeout:           opts.Timeout,
		MaxAttempts:       opts.MaxAttempts,
		DefaultRetryAfter: opts.DefaultRetryAfter,
		Limits:            opts.Limits,
		Observer:          opts.Observer,
		HTTPClient:        opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cfgTTL := opts.AccountConfigTTL
	if cfgTTL <= 0 {
		cfgTTL = defaultAccountConfigTTL
	}
	return &Client{
		pipe:             pipe,
		balance:          cache.New[string, types.Balance](ttl),
		positions:        cache.New[string, []types.Position](ttl),
		config:           cache.New[string, AccountConfig](cfgTTL),
		rules:            cache.New[string, InstrumentRules](defaultRulesTTL),
		newClientOrderID: newClientOrderID,
	}, nil
}

// newClientOrderID OKX clOrdId 仅允许字母数字，最长 32 位。
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Snapshot 交易所侧权威快照：余额 + 持仓。
func (c *Client) Snapshot(ctx context.Context) (*types.ExchangeAccount, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	return &types.ExchangeAccount{Balance: bal, Positions: positions, FetchedAt: time.Now()}, nil
}

// invalidate 下单/平仓后余额与持仓缓存失效。
func (c *Client) invalidate() {
	c.balance.Delete(cacheKeyBalance)
	c.positions.Delete(cacheKeyPositions)
}
