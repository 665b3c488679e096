package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Credentials carry the caller's proof of identity for a single call. They
// are passed explicitly rather than held as client state so the sync engine
// stays testable without process-wide session state.
type Credentials struct {
	Token string
}

// StatusError is an HTTP-status-bearing failure from the service of record.
// The sync engine classifies on Code; anything without a StatusError is a
// transport-level (transient) failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote: status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("remote: status %d", e.Code)
}

// ItemPayload is the wire shape of an item for add/update calls.
type ItemPayload struct {
	Text     string            `json:"text"`
	TermID   string            `json:"term_id,omitempty"`
	Quantity float64           `json:"qty"`
	Unit     string            `json:"unit"`
	Checked  bool              `json:"checked"`
	Category string            `json:"category,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// GuestImportItem is one item in a guest import payload, keyed by local id.
type GuestImportItem struct {
	ItemLocalID string            `json:"item_local_id"`
	Text        string            `json:"text"`
	TermID      string            `json:"term_id,omitempty"`
	Quantity    float64           `json:"qty"`
	Unit        string            `json:"unit"`
	Checked     bool              `json:"checked"`
	Category    string            `json:"category,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// GuestImportList is one list in a guest import payload, keyed by local id.
type GuestImportList struct {
	ListLocalID string            `json:"list_local_id"`
	Name        string            `json:"name"`
	Items       []GuestImportItem `json:"items"`
}

// GuestImportRequest uploads an entire pre-authentication dataset in one call.
type GuestImportRequest struct {
	Lists []GuestImportList `json:"lists"`
}

// GuestImportResponse maps local ids to server-assigned ids. Records rejected
// by the server (for example as duplicates) are absent from the maps.
type GuestImportResponse struct {
	ListIDMap map[string]string `json:"list_id_map"`
	ItemIDMap map[string]string `json:"item_id_map"`
}

// Client is the narrow RPC boundary to the service of record.
type Client interface {
	CreateList(ctx context.Context, creds Credentials, name string) (string, error)
	RenameList(ctx context.Context, creds Credentials, serverID, name string) error
	DeleteList(ctx context.Context, creds Credentials, serverID string) error
	AddItem(ctx context.Context, creds Credentials, listServerID string, item ItemPayload) (string, error)
	UpdateItem(ctx context.Context, creds Credentials, listServerID, itemServerID string, patch ItemPayload) error
	DeleteItem(ctx context.Context, creds Credentials, listServerID, itemServerID string) error
	ImportGuest(ctx context.Context, creds Credentials, req GuestImportRequest) (*GuestImportResponse, error)
	Health(ctx context.Context) error
}

// HTTPClient implements Client against the list service's HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given base URL. Every call carries
// an explicit timeout so no drain pass blocks indefinitely.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type listRequest struct {
	Name string `json:"name"`
}

func (c *HTTPClient) CreateList(ctx context.Context, creds Credentials, name string) (string, error) {
	var resp idResponse
	if err := c.do(ctx, creds, http.MethodPost, "/api/lists", listRequest{Name: name}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) RenameList(ctx context.Context, creds Credentials, serverID, name string) error {
	path := "/api/lists/" + url.PathEscape(serverID)
	return c.do(ctx, creds, http.MethodPatch, path, listRequest{Name: name}, nil)
}

func (c *HTTPClient) DeleteList(ctx context.Context, creds Credentials, serverID string) error {
	path := "/api/lists/" + url.PathEscape(serverID)
	return c.do(ctx, creds, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) AddItem(ctx context.Context, creds Credentials, listServerID string, item ItemPayload) (string, error) {
	var resp idResponse
	path := "/api/lists/" + url.PathEscape(listServerID) + "/items"
	if err := c.do(ctx, creds, http.MethodPost, path, item, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) UpdateItem(ctx context.Context, creds Credentials, listServerID, itemServerID string, patch ItemPayload) error {
	path := "/api/lists/" + url.PathEscape(listServerID) + "/items/" + url.PathEscape(itemServerID)
	return c.do(ctx, creds, http.MethodPatch, path, patch, nil)
}

func (c *HTTPClient) DeleteItem(ctx context.Context, creds Credentials, listServerID, itemServerID string) error {
	path := "/api/lists/" + url.PathEscape(listServerID) + "/items/" + url.PathEscape(itemServerID)
	return c.do(ctx, creds, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) ImportGuest(ctx context.Context, creds Credentials, req GuestImportRequest) (*GuestImportResponse, error) {
	var resp GuestImportResponse
	if err := c.do(ctx, creds, http.MethodPost, "/api/import/guest", req, &resp); err != nil {
		return nil, err
	}
	if resp.ListIDMap == nil {
		resp.ListIDMap = map[string]string{}
	}
	if resp.ItemIDMap == nil {
		resp.ItemIDMap = map[string]string{}
	}
	return &resp, nil
}

// Health is a lightweight probe used by the connectivity gate. A reachable
// but erroring service still counts as down for sync purposes.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, Credentials{}, http.MethodGet, "/api/health", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, creds Credentials, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
