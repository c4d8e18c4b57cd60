// Package rest implements the billing gateway against the hustl billing
// backend's HTTP API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
)

const defaultTimeout = 30 * time.Second

// Client talks to the billing backend over HTTP. It implements
// entitlement.Gateway.
type Client struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	apiKey string
	userID string
}

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Configure stores the backend credentials. No network call is made; the
// first real request surfaces a bad key.
func (c *Client) Configure(_ context.Context, apiKey, appUserID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.userID = appUserID
	return nil
}

// Identify binds the session to the backend identity for userID.
func (c *Client) Identify(ctx context.Context, userID string) error {
	body := identifyRequest{AppUserID: userID}
	if err := c.do(ctx, http.MethodPost, "/v1/identify", "", body, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return nil
}

// Logout returns the session to anonymous. Local only, like Configure:
// subsequent requests simply carry no X-App-User-ID header.
func (c *Client) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	return nil
}

// FetchOfferings returns the sellable catalog.
func (c *Client) FetchOfferings(ctx context.Context) (entitlement.Offerings, error) {
	var resp offeringsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/offerings", "", nil, &resp); err != nil {
		return entitlement.Offerings{}, err
	}

	offerings := resp.toOfferings()
	if err := offerings.Validate(); err != nil {
		return entitlement.Offerings{}, entitlement.NewError(entitlement.KindCatalogUnavailable, "rest.fetch_offerings", err)
	}
	return offerings, nil
}

// ExecutePurchase submits one purchase. The attempt token travels as an
// Idempotency-Key header so the backend can deduplicate retries.
func (c *Client) ExecutePurchase(ctx context.Context, packageID, attemptToken string) (entitlement.OwnershipRecord, error) {
	body := purchaseRequest{PackageID: packageID}
	var resp purchaseResponse
	if err := c.do(ctx, http.MethodPost, "/v1/purchases", attemptToken, body, &resp); err != nil {
		return entitlement.OwnershipRecord{}, err
	}

	if resp.Subscriber == nil {
		return entitlement.OwnershipRecord{}, entitlement.NewError(entitlement.KindBillingUnavailable, "rest.execute_purchase",
			fmt.Errorf("purchase response missing subscriber"))
	}
	return resp.Subscriber.toRecord(), nil
}

// FetchOwnership returns the current ownership record for the bound identity.
func (c *Client) FetchOwnership(ctx context.Context) (entitlement.OwnershipRecord, error) {
	var resp subscriberResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscribers/me", "", nil, &resp); err != nil {
		return entitlement.OwnershipRecord{}, err
	}
	return resp.toRecord(), nil
}

// Restore asks the backend to re-derive ownership from its source of truth.
func (c *Client) Restore(ctx context.Context) (entitlement.OwnershipRecord, error) {
	var resp subscriberResponse
	if err := c.do(ctx, http.MethodPost, "/v1/restore", "", nil, &resp); err != nil {
		return entitlement.OwnershipRecord{}, err
	}
	return resp.toRecord(), nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	op := "rest." + strings.TrimPrefix(strings.ReplaceAll(strings.TrimPrefix(path, "/v1/"), "/", "_"), "_")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return entitlement.NewError(entitlement.KindUnknown, op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return entitlement.NewError(entitlement.KindUnknown, op, fmt.Errorf("create request: %w", err))
	}

	c.mu.RLock()
	apiKey := c.apiKey
	userID := c.userID
	c.mu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if userID != "" {
		req.Header.Set("X-App-User-ID", userID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entitlement.NewError(entitlement.KindTransientNetwork, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return entitlement.NewError(entitlement.KindTransientNetwork, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapError(op, path, resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return entitlement.NewError(kindForPath(path), op, fmt.Errorf("parse response: %w", err))
		}
	}
	return nil
}

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapError translates an HTTP failure into the Kind taxonomy. The backend's
// machine-readable error code wins over the status code when present.
func (c *Client) mapError(op, path string, status int, body []byte) error {
	detail := errorDetail{Message: strings.TrimSpace(string(body))}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		detail = envelope.Error
	}

	cause := fmt.Errorf("backend error (%d): %s", status, detail.Message)

	switch detail.Code {
	case "already_owned", "already_purchased":
		return entitlement.NewError(entitlement.KindAlreadyOwned, op, cause)
	case "user_cancelled":
		return entitlement.NewError(entitlement.KindUserCancelled, op, cause)
	case "product_not_found", "package_not_found":
		return entitlement.NewError(entitlement.KindProductUnavailable, op, cause)
	case "unknown_user", "invalid_user":
		return entitlement.NewError(entitlement.KindIdentity, op, cause)
	case "restore_unavailable", "nothing_to_restore":
		return entitlement.NewError(entitlement.KindRestoreUnavailable, op, cause)
	}

	switch {
	case status == http.StatusConflict && strings.HasPrefix(path, "/v1/purchases"):
		return entitlement.NewError(entitlement.KindAlreadyOwned, op, cause)
	case status == http.StatusNotFound && strings.HasPrefix(path, "/v1/purchases"):
		return entitlement.NewError(entitlement.KindProductUnavailable, op, cause)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return entitlement.NewError(entitlement.KindTransientNetwork, op, cause)
	case (status == http.StatusBadRequest || status == http.StatusUnauthorized) && path == "/v1/identify":
		return entitlement.NewError(entitlement.KindIdentity, op, cause)
	case status >= 500:
		return entitlement.NewError(entitlement.KindBillingUnavailable, op, cause)
	default:
		return entitlement.NewError(kindForPath(path), op, cause)
	}
}

// kindForPath picks the surface-appropriate fallback kind for a request.
func kindForPath(path string) entitlement.Kind {
	switch {
	case strings.HasPrefix(path, "/v1/offerings"):
		return entitlement.KindCatalogUnavailable
	case path == "/v1/identify":
		return entitlement.KindIdentity
	case path == "/v1/restore":
		return entitlement.KindRestoreUnavailable
	default:
		return entitlement.KindBillingUnavailable
	}
}
