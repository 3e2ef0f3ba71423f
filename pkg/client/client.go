// Package client provides the ForensicEDR Go SDK for uploading encrypted
// evidence and querying crash records and custody chains.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// CrashEvent is the crash record shape returned by the API.
type CrashEvent struct {
	EventID          string         `json:"event_id"`
	Timestamp        time.Time      `json:"timestamp"`
	CrashDescription string         `json:"crash_event"`
	CrashType        string         `json:"crash_type"`
	Severity         string         `json:"severity"`
	Location         Location       `json:"location"`
	CalculatedValues map[string]any `json:"calculated_values,omitempty"`
}

// Location is the crash position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// CustodyEntry is one link of an event's custody chain.
type CustodyEntry struct {
	EntryID       string         `json:"entry_id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	Action        string         `json:"action"`
	Actor         string         `json:"actor"`
	ActorType     string         `json:"actor_type"`
	Location      string         `json:"location,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	PreviousHash  string         `json:"previous_hash"`
	EntryHash     string         `json:"entry_hash"`
	HashAlgorithm string         `json:"hash_algorithm"`
}

// Verification is the chain verification result returned by the API.
type Verification struct {
	Valid       bool   `json:"valid"`
	ChainLength int    `json:"chain_length"`
	Reason      string `json:"reason,omitempty"`
	AtIndex     int    `json:"at_index,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Found       string `json:"found,omitempty"`
}

// CustodyChain is the full chain view for one event.
type CustodyChain struct {
	EventID      string         `json:"event_id"`
	Chain        []CustodyEntry `json:"chain"`
	ChainLength  int            `json:"chain_length"`
	Verification Verification   `json:"verification"`
}

// UploadReceipt confirms a stored evidence upload.
type UploadReceipt struct {
	Status    string    `json:"status"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
}

// AppendEntryRequest is the payload for AppendCustody.
type AppendEntryRequest struct {
	Action   string         `json:"action"`
	Actor    string         `json:"actor"`
	Location string         `json:"location,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// ListOptions narrows ListCrashes queries. Zero values are omitted.
type ListOptions struct {
	Severity  string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	Limit     int
	Skip      int
}

// Client is the ForensicEDR SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// device credential for token exchange
	deviceID string
	apiKey   string

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithDeviceCredential configures a device ID and API key for automatic
// token exchange against the /auth/token endpoint.
func WithDeviceCredential(deviceID, apiKey string) Option {
	return func(c *Client) error {
		c.deviceID = deviceID
		c.apiKey = apiKey
		return nil
	}
}

// New creates a Client for the given API base URL, e.g. "https://edr.example".
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// FetchToken exchanges the configured device credential for a JWT, caches
// it, and returns it. Requires WithDeviceCredential.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw fetches a fresh token without touching cached state. It uses
// the raw httpClient so no stale bearer token rides along on the exchange.
func (c *Client) fetchTokenRaw(ctx context.Context) (token string, expiry time.Time, err error) {
	if c.deviceID == "" {
		return "", time.Time{}, fmt.Errorf("no device credential configured; use WithDeviceCredential or WithBearerToken")
	}

	payload, _ := json.Marshal(map[string]string{
		"device_id": c.deviceID,
		"api_key":   c.apiKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Server tokens live for an hour; refresh 60 s early to absorb clock skew.
	exp := time.Now().Add(time.Hour - 60*time.Second)
	return tokenResp.Token, exp, nil
}

// ensureToken returns a valid bearer token, fetching a new one if the cached
// token is absent or approaching expiry. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// UploadEvidence uploads an encrypted evidence envelope, optionally with the
// edge device's custody log entry, and returns the server's receipt.
func (c *Client) UploadEvidence(ctx context.Context, filename string, envelope, edgeCustodyLog []byte) (*UploadReceipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := fw.Write(envelope); err != nil {
		return nil, fmt.Errorf("write envelope: %w", err)
	}
	if len(edgeCustodyLog) > 0 {
		lw, err := mw.CreateFormFile("custody_log", "custody_log.json")
		if err != nil {
			return nil, fmt.Errorf("build multipart form: %w", err)
		}
		if _, err := lw.Write(edgeCustodyLog); err != nil {
			return nil, fmt.Errorf("write custody log: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/evidence/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.doAuthed(ctx, req)
	if err != nil {
		return nil, err
	}

	var receipt UploadReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("decode upload receipt: %w", err)
	}
	return &receipt, nil
}

// ListCrashes returns crash events matching the options.
func (c *Client) ListCrashes(ctx context.Context, opts ListOptions) ([]CrashEvent, error) {
	q := url.Values{}
	if opts.Severity != "" {
		q.Set("severity", opts.Severity)
	}
	if opts.StartDate != "" {
		q.Set("start_date", opts.StartDate)
	}
	if opts.EndDate != "" {
		q.Set("end_date", opts.EndDate)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}

	u := c.baseURL + "/api/v1/crashes"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Crashes []CrashEvent `json:"crashes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode crash list: %w", err)
	}
	return resp.Crashes, nil
}

// NearbyCrashes returns crash events within radiusKM of a point.
func (c *Client) NearbyCrashes(ctx context.Context, lat, lon, radiusKM float64) ([]CrashEvent, error) {
	u := fmt.Sprintf("%s/api/v1/crashes/nearby?lat=%g&lon=%g&radius_km=%g",
		c.baseURL, lat, lon, radiusKM)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build nearby request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Crashes []CrashEvent `json:"crashes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode nearby crashes: %w", err)
	}
	return resp.Crashes, nil
}

// FullRecord is the complete event view returned by GetCrash.
type FullRecord struct {
	CrashEvent   *CrashEvent      `json:"crash_event"`
	Telemetry    []map[string]any `json:"telemetry,omitempty"`
	CustodyChain []CustodyEntry   `json:"custody_chain"`
}

// GetCrash fetches the full record for an event. The server records the read
// as an ACCESS entry on the event's custody chain.
func (c *Client) GetCrash(ctx context.Context, eventID string) (*FullRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/crashes/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	body, err := c.doAuthed(ctx, req)
	if err != nil {
		return nil, err
	}

	var rec FullRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode crash record: %w", err)
	}
	return &rec, nil
}

// GetCustodyChain fetches an event's custody chain with its verification result.
func (c *Client) GetCustodyChain(ctx context.Context, eventID string) (*CustodyChain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/custody/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, fmt.Errorf("build chain request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var chain CustodyChain
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, fmt.Errorf("decode custody chain: %w", err)
	}
	return &chain, nil
}

// VerifyChain asks the server to re-verify an event's custody chain.
func (c *Client) VerifyChain(ctx context.Context, eventID string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/custody/"+url.PathEscape(eventID)+"/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Verification Verification `json:"verification"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	return &resp.Verification, nil
}

// AppendCustody records a manual custody entry against an event's chain.
func (c *Client) AppendCustody(ctx context.Context, eventID string, entry AppendEntryRequest) (*CustodyEntry, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/custody/"+url.PathEscape(eventID)+"/entries",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doAuthed(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Entry *CustodyEntry `json:"entry"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode appended entry: %w", err)
	}
	return resp.Entry, nil
}

// doAuthed attaches a bearer token (fetching one if a device credential is
// configured) and executes the request.
func (c *Client) doAuthed(ctx context.Context, req *http.Request) ([]byte, error) {
	c.mu.Lock()
	haveCred := c.deviceID != "" || c.bearerToken != ""
	c.mu.Unlock()

	if haveCred {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if req.Header.Get("Authorization") == "" {
		c.mu.Lock()
		if c.bearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.bearerToken)
		}
		c.mu.Unlock()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<26))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
