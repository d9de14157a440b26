package exchange

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"signalbridge/internal/model"
	"signalbridge/pkg/logger"
)

// 距离过期不足该时长时续期
const tokenRenewBefore = 2 * time.Minute

type accessTokenRequest struct {
	Name       string `json:"name"`
	Password   string `json:"password"`
	AppID      string `json:"appId"`
	AppVersion string `json:"appVersion"`
	Cid        string `json:"cid"`
	Sec        string `json:"sec"`
	DeviceID   string `json:"deviceId,omitempty"`
}

type accessTokenResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	UserID         int64  `json:"userId"`
	ErrorText      string `json:"errorText"`
}

type accountItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Connect 登录并确定下单账户
func (c *TradovateClient) Connect(ctx context.Context) error {
	c.authMu.Lock()
	err := c.authenticate(ctx)
	c.authMu.Unlock()
	if err != nil {
		return err
	}
	return c.resolveAccount(ctx)
}

func (c *TradovateClient) authenticate(ctx context.Context) error {
	req := accessTokenRequest{
		Name:       c.cfg.Username,
		Password:   c.cfg.Password,
		AppID:      c.cfg.AppID,
		AppVersion: c.cfg.AppVersion,
		Cid:        c.cfg.ClientID,
		Sec:        c.cfg.ClientSecret,
		DeviceID:   c.cfg.DeviceID,
	}
	var resp accessTokenResponse
	if err := c.send(ctx, http.MethodPost, "/auth/accesstokenrequest", req, &resp, false); err != nil {
		return err
	}
	if resp.ErrorText != "" || resp.AccessToken == "" {
		return model.NewRejectedError("accesstokenrequest", 0, resp.ErrorText)
	}
	c.storeToken(resp)
	logger.Info("tradovate authenticated", logger.Pair("userId", resp.UserID), logger.Pair("expiry", c.expiry))
	return nil
}

func (c *TradovateClient) renew(ctx context.Context) error {
	var resp accessTokenResponse
	if err := c.send(ctx, http.MethodGet, "/auth/renewaccesstoken", nil, &resp, true); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return errors.New("renew access token: empty token")
	}
	c.storeToken(resp)
	return nil
}

func (c *TradovateClient) storeToken(resp accessTokenResponse) {
	expiry := tokenExpiry(resp.AccessToken)
	if expiry.IsZero() && resp.ExpirationTime != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpirationTime); err == nil {
			expiry = t
		}
	}
	if expiry.IsZero() {
		// 券商默认 80 分钟有效
		expiry = time.Now().Add(80 * time.Minute)
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.expiry = expiry
	c.mu.Unlock()
}

// tokenExpiry 只读取 exp，不校验签名
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if exp, ok := claims["exp"].(float64); ok {
		return time.Unix(int64(exp), 0)
	}
	return time.Time{}
}

// ensureToken 没有 token 时登录，快过期时续期，续期失败再重新登录。
// 并发请求只有一个去登录，其余等待后直接使用新 token
func (c *TradovateClient) ensureToken(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	c.mu.Lock()
	token, expiry := c.token, c.expiry
	c.mu.Unlock()

	if token == "" {
		return c.authenticate(ctx)
	}
	if time.Until(expiry) > tokenRenewBefore {
		return nil
	}
	if err := c.renew(ctx); err != nil {
		logger.Warn("tradovate token renew failed, re-authenticating", logger.Pair("err", err))
		return c.authenticate(ctx)
	}
	return nil
}

func (c *TradovateClient) resolveAccount(ctx context.Context) error {
	var accounts []accountItem
	if err := c.do(ctx, http.MethodGet, "/account/list", nil, &accounts); err != nil {
		return err
	}
	for _, a := range accounts {
		if (c.cfg.AccountID != 0 && a.ID == c.cfg.AccountID) ||
			(c.cfg.AccountID == 0 && c.cfg.AccountSpec != "" && a.Name == c.cfg.AccountSpec) {
			c.setAccount(a)
			return nil
		}
	}
	if c.cfg.AccountID == 0 && c.cfg.AccountSpec == "" && len(accounts) > 0 {
		c.setAccount(accounts[0])
		return nil
	}
	return errors.New("tradovate account not found")
}

func (c *TradovateClient) setAccount(a accountItem) {
	c.mu.Lock()
	c.account = model.Account{ID: a.ID, Spec: a.Name}
	c.mu.Unlock()
	logger.Info("tradovate account selected", logger.Pair("accountId", a.ID), logger.Pair("accountSpec", a.Name))
}
