// Package gmo is a minimal client for the GMO Coin private REST API,
// covering only the ws-auth endpoints the execution feed needs.
package gmo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const wsAuthPath = "/v1/ws-auth"

// Client signs and sends private API requests. Safe for concurrent use.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *http.Client
}

func NewClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
	}
}

// CreateWSToken mints a fresh websocket access token. Each connection
// attempt needs its own token; they are never reused.
func (c *Client) CreateWSToken(ctx context.Context) (string, error) {
	env, err := c.requestSigned(ctx, http.MethodPost, wsAuthPath, struct{}{}, true)
	if err != nil {
		return "", err
	}
	var token string
	if env != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &token); err != nil {
			return "", fmt.Errorf("gmo: ws-auth returned unexpected data: %w", err)
		}
	}
	if token == "" {
		return "", fmt.Errorf("gmo: ws-auth returned no token")
	}
	return token, nil
}

// ExtendWSToken pushes back the expiry of an active token.
func (c *Client) ExtendWSToken(ctx context.Context, token string) error {
	_, err := c.requestSigned(ctx, http.MethodPut, wsAuthPath, tokenRequest{Token: token}, false)
	return err
}

// DeleteWSToken revokes a token. Used best-effort on clean shutdown.
func (c *Client) DeleteWSToken(ctx context.Context, token string) error {
	_, err := c.requestSigned(ctx, http.MethodDelete, wsAuthPath, tokenRequest{Token: token}, false)
	return err
}

type tokenRequest struct {
	Token string `json:"token"`
}

type apiResponse struct {
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data"`
	Messages []apiMessage    `json:"messages"`
}

type apiMessage struct {
	Code string `json:"message_code"`
	Text string `json:"message_string"`
}

// requestSigned sends one signed request. The signature covers
// timestamp + method + path, plus the serialized body only when
// signBody is set: the exchange includes the body for POST create but
// not for extend/delete.
func (c *Client) requestSigned(ctx context.Context, method, path string, body any, signBody bool) (*apiResponse, error) {
	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gmo: marshal request body: %w", err)
		}
		bodyStr = string(b)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signText := timestamp + method + path
	if signBody {
		signText += bodyStr
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(bodyStr))
	if err != nil {
		return nil, fmt.Errorf("gmo: %s %s: %w", method, path, err)
	}
	req.Header.Set("API-KEY", c.apiKey)
	req.Header.Set("API-TIMESTAMP", timestamp)
	req.Header.Set("API-SIGN", sign(c.apiSecret, signText))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gmo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gmo: %s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("gmo: %s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gmo: %s %s: non-JSON response: %w", method, path, err)
	}
	// The API reports application errors as HTTP 200 with a non-zero status.
	if env.Status != 0 {
		return nil, fmt.Errorf("gmo: %s %s: status %d: %s", method, path, env.Status, joinMessages(env.Messages))
	}
	return &env, nil
}

func sign(secret, text string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(text))
	return hex.EncodeToString(mac.Sum(nil))
}

func joinMessages(msgs []apiMessage) string {
	if len(msgs) == 0 {
		return "no error detail"
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Code, m.Text))
	}
	return strings.Join(parts, "; ")
}
