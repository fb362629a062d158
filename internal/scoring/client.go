package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
	"golang.org/x/oauth2"
)

// APIError is a non-success response from the scoring API. Message is the
// backend's error text, surfaced to the operator verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scoring API %d: %s", e.Status, e.Message)
}

// Client calls the scoring API on behalf of an operator.
type Client struct {
	base       string
	httpClient *http.Client
}

// NewClient creates a Client that authenticates with the operator's bearer
// token. timeout bounds each request; zero means none.
func NewClient(baseURL, operatorToken string, timeout time.Duration) *Client {
	hc := &http.Client{}
	if operatorToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: operatorToken, TokenType: "Bearer"})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	hc.Timeout = timeout
	return &Client{base: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// SubmitScore posts the raw scores and returns the issued (hash, locator).
func (c *Client) SubmitScore(ctx context.Context, enrollmentID, participantID uuid.UUID, s certificate.ExamScore) (*Issued, error) {
	var out Issued
	err := c.post(ctx, "/api/v1/enrollments/"+enrollmentID.String()+"/scores",
		SubmitScoreRequest{ParticipantID: participantID, ExamScore: s}, &out)
	if err != nil {
		return nil, err
	}
	if out.Hash == "" || out.Locator == "" {
		return nil, fmt.Errorf("scoring API returned an incomplete result")
	}
	return &out, nil
}

// Reconcile reports a confirmed anchor to the backend.
func (c *Client) Reconcile(ctx context.Context, enrollmentID, participantID uuid.UUID, hash string) error {
	return c.post(ctx, "/api/v1/enrollments/"+enrollmentID.String()+"/reconcile",
		ReconcileRequest{ParticipantID: participantID, Hash: hash}, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scoring API unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Direct adapts a Service to the Client's method set for in-process use.
type Direct struct {
	Service *Service
}

// SubmitScore calls Service.SubmitScore.
func (d Direct) SubmitScore(ctx context.Context, enrollmentID, participantID uuid.UUID, s certificate.ExamScore) (*Issued, error) {
	return d.Service.SubmitScore(ctx, enrollmentID, SubmitScoreRequest{ParticipantID: participantID, ExamScore: s})
}

// Reconcile calls Service.Reconcile.
func (d Direct) Reconcile(ctx context.Context, enrollmentID, participantID uuid.UUID, hash string) error {
	_, err := d.Service.Reconcile(ctx, enrollmentID, ReconcileRequest{ParticipantID: participantID, Hash: hash})
	return err
}
