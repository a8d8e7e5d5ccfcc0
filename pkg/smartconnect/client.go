// Package smartconnect is a minimal Angel One SmartAPI client: TOTP session
// login, order placement and the market data stream. Only the endpoints the
// trader actually calls are wired.
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.order.book":   "/rest/secure/angelbroking/order/v1/getOrderBook",
	"api.ltp.data":     "/rest/secure/angelbroking/order/v1/getLtpData",
}

// Config configures a Client. APIKey, ClientCode, Password and TOTPSecret are
// required for Login; tokens can be injected instead for a resumed session.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	AccessToken  string
	RefreshToken string
	FeedToken    string

	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s
	Debug   bool

	ClientLocalIP  string // default: 127.0.0.1
	ClientPublicIP string // default: 127.0.0.1
	ClientMAC      string // default: 00:00:00:00:00:00
}

// Client talks to the SmartAPI REST endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client

	accessToken  string
	refreshToken string
	feedToken    string

	// SessionExpiryHook is called when the API rejects the session token.
	SessionExpiryHook func()
}

// New creates a Client. It does not log in; call Login.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = "127.0.0.1"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "127.0.0.1"
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = "00:00:00:00:00:00"
	}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
		feedToken:    cfg.FeedToken,
	}
}

// FeedToken returns the feed token of the current session.
func (c *Client) FeedToken() string { return c.feedToken }

// AccessToken returns the JWT of the current session.
func (c *Client) AccessToken() string { return c.accessToken }

// apiResponse is the common SmartAPI envelope.
type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// Login generates the current TOTP code and opens a session, storing the
// returned tokens on the client.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("smartconnect totp: %w", err)
	}

	res, err := c.post(ctx, "api.login", map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return fmt.Errorf("smartconnect login: %w", err)
	}

	var tokens struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	if err := json.Unmarshal(res.Data, &tokens); err != nil {
		return fmt.Errorf("smartconnect login response: %w", err)
	}
	c.accessToken = tokens.JWTToken
	c.refreshToken = tokens.RefreshToken
	c.feedToken = tokens.FeedToken

	log.Printf("[smartconnect] session opened for %s", c.cfg.ClientCode)
	return nil
}

// RenewSession exchanges the refresh token for fresh session tokens.
func (c *Client) RenewSession(ctx context.Context) error {
	res, err := c.post(ctx, "api.token", map[string]string{
		"refreshToken": c.refreshToken,
	})
	if err != nil {
		return fmt.Errorf("smartconnect renew: %w", err)
	}
	var tokens struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	}
	if err := json.Unmarshal(res.Data, &tokens); err != nil {
		return fmt.Errorf("smartconnect renew response: %w", err)
	}
	if tokens.JWTToken != "" {
		c.accessToken = tokens.JWTToken
	}
	if tokens.FeedToken != "" {
		c.feedToken = tokens.FeedToken
	}
	return nil
}

// Logout terminates the session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.post(ctx, "api.logout", map[string]string{
		"clientcode": c.cfg.ClientCode,
	})
	return err
}

// OrderParams describes an order in SmartAPI terms. Prices are rupee strings
// ("123.45"), quantities plain integers, per the API.
type OrderParams struct {
	Variety         string `json:"variety"`         // NORMAL
	TradingSymbol   string `json:"tradingsymbol"`   // e.g. NIFTY25SEP24800CE
	SymbolToken     string `json:"symboltoken"`     // instrument token
	TransactionType string `json:"transactiontype"` // BUY / SELL
	Exchange        string `json:"exchange"`        // NFO / BFO
	OrderType       string `json:"ordertype"`       // MARKET / LIMIT
	ProductType     string `json:"producttype"`     // INTRADAY / CARRYFORWARD
	Duration        string `json:"duration"`        // DAY
	Price           string `json:"price,omitempty"`
	Quantity        string `json:"quantity"`
}

// PlaceOrder submits an order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	res, err := c.post(ctx, "api.order.place", p)
	if err != nil {
		return "", fmt.Errorf("smartconnect place order: %w", err)
	}
	var data struct {
		OrderID string `json:"orderid"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil || data.OrderID == "" {
		return "", fmt.Errorf("smartconnect place order: unexpected response %q", string(res.Data))
	}
	return data.OrderID, nil
}

// LTP fetches the last traded price for one instrument. Returns paise.
func (c *Client) LTP(ctx context.Context, exchange, tradingSymbol, token string) (int64, error) {
	res, err := c.post(ctx, "api.ltp.data", map[string]string{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   token,
	})
	if err != nil {
		return 0, fmt.Errorf("smartconnect ltp: %w", err)
	}
	var data struct {
		LTP float64 `json:"ltp"` // rupees
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return 0, fmt.Errorf("smartconnect ltp response: %w", err)
	}
	return int64(data.LTP*100 + 0.5), nil
}

func (c *Client) post(ctx context.Context, route string, params any) (*apiResponse, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("unknown route: %s", route)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.RootURL, "/")+uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	if c.cfg.Debug {
		log.Printf("[smartconnect] POST %s", uri)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		if c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return &out, fmt.Errorf("session rejected: %s", out.Message)
	}
	if !out.Status {
		return &out, fmt.Errorf("api error %s: %s", out.ErrorCode, out.Message)
	}
	return &out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-ClientLocalIP", c.cfg.ClientLocalIP)
	req.Header.Set("X-ClientPublicIP", c.cfg.ClientPublicIP)
	req.Header.Set("X-MACAddress", c.cfg.ClientMAC)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}
