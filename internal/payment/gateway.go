package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPGateway confirms payments against the external gateway's REST API.
// The gateway protocol itself is out of scope; this client only performs the
// opaque confirmation call.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway builds the client. The http.Client timeout stays zero on
// purpose: per-call deadlines come from the workflow's context.
func NewHTTPGateway(baseURL, apiKey string) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payment: gateway base URL is required")
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{},
	}, nil
}

type confirmationResponse struct {
	Settled bool   `json:"settled"`
	UserID  string `json:"user_id"`
	Tier    string `json:"tier"`
}

// Confirm asks the gateway whether the payment settled. Transport failures
// and timeouts map to ErrGatewayUnavailable so callers can retry; an unknown
// id maps to ErrPaymentNotFound.
func (g *HTTPGateway) Confirm(ctx context.Context, paymentID string) (Confirmation, error) {
	endpoint := g.baseURL + "/v1/payments/" + url.PathEscape(paymentID) + "/confirmation"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Confirmation{}, err
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Confirmation{}, err
		}
		return Confirmation{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return Confirmation{}, ErrPaymentNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Confirmation{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	default:
		return Confirmation{}, fmt.Errorf("payment: unexpected gateway status %d", resp.StatusCode)
	}

	var body confirmationResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&body); err != nil {
		return Confirmation{}, fmt.Errorf("%w: decode confirmation: %v", ErrGatewayUnavailable, err)
	}
	return Confirmation{Settled: body.Settled, UserID: body.UserID, Tier: body.Tier}, nil
}

var _ Gateway = (*HTTPGateway)(nil)
