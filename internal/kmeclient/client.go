// Package kmeclient はKMEのHTTP APIを呼び出すクライアントを提供する。
package kmeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qkd-mail-service/internal/domain"
	"qkd-mail-service/pkg/kmeapi"
)

// DefaultTimeout はKMEへの1リクエストあたりの既定の待ち時間。
const DefaultTimeout = 10 * time.Second

// Client はKMEのHTTPクライアント。リトライは行わない。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New は新しいClientを生成する。timeoutが0以下の場合はDefaultTimeoutを使う。
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status はKMEの能力情報を取得する。
func (c *Client) Status(ctx context.Context, slaveSAEID string) (*domain.KMEStatus, error) {
	var resp kmeapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint(kmeapi.PathStatus, slaveSAEID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.ToDomain(), nil
}

// RequestEncryptionKeys は新しい鍵をnumber個要求する。
func (c *Client) RequestEncryptionKeys(ctx context.Context, slaveSAEID string, number, sizeBits int) ([]*domain.Key, error) {
	req := kmeapi.KeyRequest{Number: &number, Size: &sizeBits}
	var resp kmeapi.KeyResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(kmeapi.PathEncKeys, slaveSAEID), req, &resp); err != nil {
		return nil, err
	}
	keys, err := resp.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	for _, k := range keys {
		k.OwnerSAE = slaveSAEID
	}
	return keys, nil
}

// RequestDecryptionKeys は指定IDの鍵を要求する。
func (c *Client) RequestDecryptionKeys(ctx context.Context, masterSAEID string, keyIDs []string) ([]*domain.Key, error) {
	req := kmeapi.NewKeyIDsRequest(keyIDs)
	var resp kmeapi.KeyResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(kmeapi.PathDecKeys, masterSAEID), req, &resp); err != nil {
		return nil, err
	}
	keys, err := resp.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return keys, nil
}

func (c *Client) endpoint(pathFormat, saeID string) string {
	return c.baseURL + fmt.Sprintf(pathFormat, url.PathEscape(saeID))
}

// do はリクエストを送り、レスポンスをoutにデコードする。
// 到達不能・タイムアウト・ゲートウェイ系のエラーはErrServiceUnavailableに変換する。
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "KME request failed",
			"method", method,
			"url", endpoint,
			"error", err,
		)
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
		}
		return fmt.Errorf("%w: decoding response: %v", domain.ErrServiceUnavailable, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	msg := resp.Status
	var e struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err == nil && e.Message != "" {
		msg = e.Message
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", domain.ErrServiceUnavailable, msg)
	default:
		return fmt.Errorf("KME returned %d: %s", resp.StatusCode, msg)
	}
}
