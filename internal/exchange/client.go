package exchange

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyalgo/internal/config"
	"polyalgo/internal/order"
	"polyalgo/internal/session"
)

// 链上金额精度，报价货币与份额均为 6 位小数。
var unitScale = decimal.NewFromInt(1_000_000)

// Client 负责与 CLOB 交易所 REST 接口交互。
// 传输层错误原样返回，由上层重试机制分类处理。
type Client struct {
	cfg    config.ClobConfig
	http   *http.Client
	logger *zap.Logger

	metaMu sync.Mutex
	meta   map[string]tokenMeta
}

type tokenMeta struct {
	tickSize  float64
	negRisk   bool
	fetchedAt time.Time
}

// NewClient 创建 CLOB 客户端。
func NewClient(cfg config.ClobConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		meta:   make(map[string]tokenMeta),
	}
}

// Price 获取指定代币的中间价。价格暂不可得时返回 ErrPriceUnavailable。
func (c *Client) Price(ctx context.Context, tokenID string) (float64, error) {
	var resp struct {
		Mid string `json:"mid"`
	}
	if err := c.getJSON(ctx, "/midpoint", url.Values{"token_id": {tokenID}}, &resp); err != nil {
		return 0, err
	}
	if resp.Mid == "" {
		return 0, ErrPriceUnavailable
	}
	price, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

// TickSize 返回代币的最小报价步长，带短 TTL 缓存。
func (c *Client) TickSize(ctx context.Context, tokenID string) (float64, error) {
	meta, err := c.tokenMeta(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	return meta.tickSize, nil
}

// NegRisk 返回代币所在市场是否为 neg-risk 模式，带短 TTL 缓存。
func (c *Client) NegRisk(ctx context.Context, tokenID string) (bool, error) {
	meta, err := c.tokenMeta(ctx, tokenID)
	if err != nil {
		return false, err
	}
	return meta.negRisk, nil
}

func (c *Client) tokenMeta(ctx context.Context, tokenID string) (tokenMeta, error) {
	ttl := c.cfg.MetadataTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c.metaMu.Lock()
	cached, ok := c.meta[tokenID]
	c.metaMu.Unlock()
	if ok && time.Since(cached.fetchedAt) < ttl {
		return cached, nil
	}

	var tickResp struct {
		MinimumTickSize json.Number `json:"minimum_tick_size"`
	}
	if err := c.getJSON(ctx, "/tick-size", url.Values{"token_id": {tokenID}}, &tickResp); err != nil {
		return tokenMeta{}, err
	}
	tick, err := tickResp.MinimumTickSize.Float64()
	if err != nil || tick <= 0 {
		return tokenMeta{}, fmt.Errorf("exchange: 无效的 tick size %q", tickResp.MinimumTickSize)
	}

	var negResp struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := c.getJSON(ctx, "/neg-risk", url.Values{"token_id": {tokenID}}, &negResp); err != nil {
		return tokenMeta{}, err
	}

	meta := tokenMeta{tickSize: tick, negRisk: negResp.NegRisk, fetchedAt: time.Now()}
	c.metaMu.Lock()
	c.meta[tokenID] = meta
	c.metaMu.Unlock()
	return meta, nil
}

// Balance 即时查询代理钱包的可用余额。抵押品按报价货币计，
// 条件代币按份额计。结果不做任何缓存。
func (c *Client) Balance(ctx context.Context, sess *session.Session, kind BalanceKind, tokenID string) (float64, error) {
	query := url.Values{"asset_type": {string(kind)}}
	if kind == BalanceConditional {
		query.Set("token_id", tokenID)
	}

	path := "/balance-allowance"
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return 0, err
	}
	if err := applyL2Headers(req, sess.EOA.Hex(), sess.Creds, time.Now().Unix(), http.MethodGet, path, ""); err != nil {
		return 0, err
	}

	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}

	raw, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return 0, fmt.Errorf("exchange: 解析余额失败: %w", err)
	}
	bal, _ := raw.Div(unitScale).Float64()
	return bal, nil
}

// SubmitOrder 提交一笔签名委托。业务拒单通过 SubmitResult 表达，
// 传输层错误返回 error。
func (c *Client) SubmitOrder(ctx context.Context, sess *session.Session, req OrderRequest) (SubmitResult, error) {
	tick, err := c.TickSize(ctx, req.TokenID)
	if err != nil {
		return SubmitResult{}, err
	}
	negRisk, err := c.NegRisk(ctx, req.TokenID)
	if err != nil {
		return SubmitResult{}, err
	}

	price := roundToTick(req.Price, tick)
	size := decimal.NewFromFloat(req.Size).Round(2)

	makerAmount := size.Mul(price)
	takerAmount := size
	if req.Side == order.SideSell {
		makerAmount, takerAmount = takerAmount, makerAmount
	}

	salt, err := randomSalt()
	if err != nil {
		return SubmitResult{}, err
	}

	payload := map[string]interface{}{
		"salt":          salt,
		"maker":         sess.Proxy.Hex(),
		"signer":        sess.EOA.Hex(),
		"tokenID":       req.TokenID,
		"makerAmount":   makerAmount.Mul(unitScale).Round(0).String(),
		"takerAmount":   takerAmount.Mul(unitScale).Round(0).String(),
		"price":         price.String(),
		"side":          string(req.Side),
		"clientOrderID": req.ClientID,
		"negRisk":       negRisk,
		"chainID":       c.cfg.ChainID,
		"signatureType": 1, // POLY_PROXY
	}

	signed, err := signPayload(payload, sess.Key)
	if err != nil {
		return SubmitResult{}, err
	}

	body, err := json.Marshal(signed)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("exchange: 序列化委托失败: %w", err)
	}

	path := "/order"
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := applyL2Headers(httpReq, sess.EOA.Hex(), sess.Creds, time.Now().Unix(), http.MethodPost, path, string(body)); err != nil {
		return SubmitResult{}, err
	}

	var result SubmitResult
	if err := c.do(httpReq, &result); err != nil {
		return SubmitResult{}, err
	}

	c.logger.Debug("委托已提交",
		zap.String("token_id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.String("price", price.String()),
		zap.Bool("success", result.Success),
	)
	return result, nil
}

// DeriveCredentials 派生既有 API 凭证，实现 session.CredentialClient。
func (c *Client) DeriveCredentials(ctx context.Context, key *ecdsa.PrivateKey) (session.Credentials, error) {
	return c.credentials(ctx, http.MethodGet, "/auth/derive-api-key", key)
}

// CreateCredentials 创建新的 API 凭证，实现 session.CredentialClient。
func (c *Client) CreateCredentials(ctx context.Context, key *ecdsa.PrivateKey) (session.Credentials, error) {
	return c.credentials(ctx, http.MethodPost, "/auth/api-key", key)
}

func (c *Client) credentials(ctx context.Context, method, path string, key *ecdsa.PrivateKey) (session.Credentials, error) {
	req, err := c.newRequest(ctx, method, path, nil, nil)
	if err != nil {
		return session.Credentials{}, err
	}
	if err := applyL1Headers(req, key, time.Now().Unix(), 0); err != nil {
		return session.Credentials{}, err
	}

	var resp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := c.do(req, &resp); err != nil {
		return session.Credentials{}, err
	}
	if resp.APIKey == "" || resp.Secret == "" {
		return session.Credentials{}, fmt.Errorf("exchange: 凭证响应不完整")
	}

	return session.Credentials{
		Key:        resp.APIKey,
		Secret:     resp.Secret,
		Passphrase: resp.Passphrase,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("exchange: 构造请求失败: %w", err)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: 请求 %s 失败: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("exchange: 读取响应失败: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("exchange: %s 服务端错误 %d: %s", req.URL.Path, resp.StatusCode, string(data))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("exchange: %s 请求被拒绝 %d: %s", req.URL.Path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("exchange: 解析 %s 响应失败: %w", req.URL.Path, err)
	}
	return nil
}

// roundToTick 将价格对齐到报价步长。
func roundToTick(price, tick float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	if t.IsZero() {
		return p
	}
	return p.Div(t).Round(0).Mul(t)
}

// signPayload 对委托体做 EIP-191 签名并附加签名字段。
// 签名细节对执行引擎不可见，这里保持最小实现。
func signPayload(payload map[string]interface{}, key *ecdsa.PrivateKey) (map[string]interface{}, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("exchange: 序列化签名体失败: %w", err)
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(canonical), canonical)
	digest := crypto.Keccak256([]byte(prefixed))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("exchange: 签名委托失败: %w", err)
	}
	sig[64] += 27

	payload["signature"] = "0x" + fmt.Sprintf("%x", sig)
	return payload, nil
}

// randomSalt 生成 2^32 范围内的随机 salt，避免超出部分下游
// 解析器的安全整数范围。
func randomSalt() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return 0, fmt.Errorf("exchange: 生成 salt 失败: %w", err)
	}
	return n.Int64(), nil
}
