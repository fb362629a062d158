package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GatewayClient talks to an IPFS-style HTTP gateway:
//
//	POST {base}/api/v0/add   raw body -> {"Hash": "<cid>", "Size": n}
//	GET  {base}/ipfs/{cid}   -> raw bytes
//
// Fetched bytes are checked against the requested CID, so a gateway cannot
// substitute content.
type GatewayClient struct {
	base       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGatewayClient creates a GatewayClient. timeout bounds each request
// (default 10s).
func NewGatewayClient(baseURL string, timeout time.Duration, logger *zap.Logger) *GatewayClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type addResponse struct {
	Hash  string `json:"Hash"`
	Size  int    `json:"Size"`
	Error string `json:"error,omitempty"`
}

// Publish implements Store.
func (g *GatewayClient) Publish(ctx context.Context, data []byte) (string, error) {
	want, err := Locator(data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/api/v0/add", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read publish response: %w", err)
	}
	var out addResponse
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			msg = out.Error
		}
		return "", fmt.Errorf("gateway error %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode publish response (HTTP %d): %w", resp.StatusCode, err)
	}
	if out.Hash != want {
		return "", fmt.Errorf("%w: gateway returned %s for content %s", ErrLocatorMismatch, out.Hash, want)
	}
	return out.Hash, nil
}

// Fetch implements Store.
func (g *GatewayClient) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u := g.base + "/ipfs/" + url.PathEscape(locator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("gateway fetch failed", zap.String("locator", locator), zap.Error(err))
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > MaxBlobSize {
		return nil, fmt.Errorf("content of %s exceeds %d bytes", locator, MaxBlobSize)
	}
	if IsCID(locator) {
		if err := VerifyLocator(locator, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
