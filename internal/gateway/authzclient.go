package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrUpstreamUnreachable signals a transport-level failure talking to
// Authz, distinct from a well-formed deny response, so the caller can
// apply the narrow fail-open policy only to the right failure mode.
var ErrUpstreamUnreachable = errors.New("gateway: authz upstream unreachable")

// AuthzClient is the gateway's view of the Authz service: just enough to
// gate admin routes. Calls to /api/v1/authz/authorize are proxied by
// dispatch, not made through this client.
type AuthzClient struct {
	baseURL string
	client  *http.Client
}

func NewAuthzClient(baseURL string, timeout time.Duration) *AuthzClient {
	return &AuthzClient{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

type authorizeSubject struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

type authorizeBody struct {
	Subject  authorizeSubject `json:"subject"`
	Resource string           `json:"resource"`
	Action   string           `json:"action"`
	Context  map[string]any   `json:"context,omitempty"`
}

type authorizeResponse struct {
	Decision struct {
		Effect string `json:"effect"`
		Reason string `json:"reason"`
	} `json:"decision"`
}

// Authorize calls POST /authorize on Authz and returns the decision's
// effect and reason. A transport failure returns
// ErrUpstreamUnreachable so callers can distinguish it from a decisive
// deny.
func (c *AuthzClient) Authorize(ctx context.Context, subjectID string, roles []string, resource, action string, attrs map[string]any) (effect, reason string, err error) {
	body, err := json.Marshal(authorizeBody{
		Subject:  authorizeSubject{ID: subjectID, Roles: roles},
		Resource: resource, Action: action, Context: attrs,
	})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authorize", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", ErrUpstreamUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", "", ErrUpstreamUnreachable
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", errors.New("gateway: unexpected authz response status")
	}

	var out authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Decision.Effect, out.Decision.Reason, nil
}
