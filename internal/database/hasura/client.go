// Package hasura implements database.Store over a Hasura GraphQL endpoint that fronts
// the same schema the postgres package migrates.
package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/consent-audit/internal/config"
	"github.com/kozaktomas/consent-audit/internal/database"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 512

	codeConstraintViolation = "constraint-violation"
)

// Client sends GraphQL operations to Hasura.
type Client struct {
	url         string
	adminSecret string
	http        *http.Client
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg *config.HasuraConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("HASURA_GRAPHQL_URL is not set")
	}
	return &Client{
		url:         strings.TrimSuffix(cfg.URL, "/"),
		adminSecret: cfg.AdminSecret,
		http:        &http.Client{Timeout: defaultTimeout},
	}, nil
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response[T any] struct {
	Data   *T           `json:"data"`
	Errors []GraphError `json:"errors"`
}

// GraphError is one entry of the errors array of a GraphQL response.
type GraphError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
		Path string `json:"path"`
	} `json:"extensions"`
}

// Error is returned when Hasura answers with GraphQL errors.
type Error struct {
	Errors []GraphError
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Unwrap maps uniqueness violations to database.ErrDuplicate.
func (e *Error) Unwrap() error {
	for _, ge := range e.Errors {
		if ge.Extensions.Code == codeConstraintViolation && strings.Contains(strings.ToLower(ge.Message), "uniqueness violation") {
			return database.ErrDuplicate
		}
	}
	return nil
}

// execute posts a GraphQL operation and decodes the data member into T.
func execute[T any](ctx context.Context, c *Client, query string, vars map[string]any) (*T, error) {
	body, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.adminSecret != "" {
		req.Header.Set("x-hasura-admin-secret", c.adminSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out response[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, &Error{Errors: out.Errors}
	}
	if out.Data == nil {
		return nil, fmt.Errorf("response has no data")
	}
	return out.Data, nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	return strings.TrimSpace(string(b))
}
