package ledger

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

// Client is the HTTP client for a remote ledger service:
//
//	POST {base}/api/v1/ledger/anchors         -> 201 entry | 409 {locator} | 401
//	GET  {base}/api/v1/ledger/anchors/{hash}  -> 200 {hash, locator} | 404 {code: "not_anchored"}
//
// Only the two operations the issuance saga and the verifier need are
// implemented; chain inspection stays on the server.
type Client struct {
	base       string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client. timeout bounds each request; zero means no
// client-side timeout, which is what anchoring requires.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type anchorResponse struct {
	Entry
	Error string `json:"error,omitempty"`
}

// Anchor submits an anchor transaction.
func (c *Client) Anchor(ctx context.Context, a Anchor) (*Entry, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal anchor: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/ledger/anchors", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read anchor response: %w", err)
	}
	var out anchorResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode anchor response (HTTP %d): %w", resp.StatusCode, err)
		}
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return &out.Entry, nil
	case http.StatusConflict:
		if out.AnchorHash == "" {
			out.AnchorHash = a.Hash
		}
		return nil, &AlreadyAnchoredError{Entry: &out.Entry}
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, out.Error)
	default:
		return nil, fmt.Errorf("ledger error %d: %s", resp.StatusCode, out.Error)
	}
}

// Resolve returns the locator anchored under hash, or ErrNotAnchored.
func (c *Client) Resolve(ctx context.Context, hash string) (string, error) {
	u := c.base + "/api/v1/ledger/anchors/" + url.PathEscape(hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger resolve failed", zap.String("hash", hash), zap.Error(err))
		return "", fmt.Errorf("ledger unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read resolve response: %w", err)
	}

	var out struct {
		Hash    string `json:"hash"`
		Locator string `json:"locator"`
		Code    string `json:"code"`
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if json.Unmarshal(body, &out) == nil && out.Code == NotAnchoredCode {
			return "", ErrNotAnchored
		}
		c.logger.Warn("ledger returned 404 without not-anchored code; check the ledger URL",
			zap.String("url", u),
		)
		return "", fmt.Errorf("ledger endpoint not found (HTTP 404): %s", strings.TrimSpace(string(body)))
	default:
		return "", fmt.Errorf("ledger error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	if out.Locator == "" {
		return "", fmt.Errorf("ledger returned empty locator for %s", hash)
	}
	return out.Locator, nil
}
