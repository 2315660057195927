package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/manuals-client/pkg/bus"
)

// SearchResult is a single search hit.
type SearchResult struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	Domain   string  `json:"domain"`
	Type     string  `json:"type"`
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// SearchResponse is returned by Search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

// Device is an indexed device.
type Device struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IndexedAt string         `json:"indexed_at"`
}

// DevicesResponse is one page of devices.
type DevicesResponse struct {
	Data   []Device `json:"data"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Document is a file attached to a device.
type Document struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
	IndexedAt string `json:"indexed_at"`
}

// DocumentsResponse is one page of documents.
type DocumentsResponse struct {
	Data   []Document `json:"data"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// PinoutPin is one physical pin.
type PinoutPin struct {
	PhysicalPin  int      `json:"physical_pin"`
	GPIONum      *int     `json:"gpio_num,omitempty"`
	Name         string   `json:"name"`
	DefaultPull  string   `json:"default_pull,omitempty"`
	AltFunctions []string `json:"alt_functions,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// PinoutResponse is a device pinout.
type PinoutResponse struct {
	DeviceID string      `json:"device_id"`
	Name     string      `json:"name"`
	Pins     []PinoutPin `json:"pins"`
}

// SpecsResponse holds device specifications.
type SpecsResponse struct {
	DeviceID string            `json:"device_id"`
	Name     string            `json:"name"`
	Specs    map[string]string `json:"specs"`
}

// Counts are the index totals reported by GetStatus.
type Counts struct {
	Devices   int `json:"devices"`
	Documents int `json:"documents"`
	Users     int `json:"users"`
}

// StatusResponse is the API status.
type StatusResponse struct {
	Status      string `json:"status"`
	APIVersion  string `json:"api_version"`
	Version     string `json:"version"`
	DBPath      string `json:"db_path"`
	LastReindex string `json:"last_reindex,omitempty"`
	Counts      Counts `json:"counts"`
}

// User is an API user.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
	IsActive   bool   `json:"is_active"`
}

type meResponse struct {
	User User `json:"user"`
}

// UsersResponse lists users.
type UsersResponse struct {
	Users []User `json:"users"`
}

// CreateUserRequest is the body of CreateUser.
type CreateUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// CreateUserResponse carries the new user and its API key.
type CreateUserResponse struct {
	User   User   `json:"user"`
	APIKey string `json:"api_key"`
}

// Setting is a server setting.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// SettingsResponse lists settings.
type SettingsResponse struct {
	Settings []Setting `json:"settings"`
}

// ReindexStatus is the state of the indexer.
type ReindexStatus struct {
	Running      bool   `json:"running"`
	LastRun      string `json:"last_run,omitempty"`
	LastStatus   string `json:"last_status,omitempty"`
	DevicesFound int    `json:"devices_found,omitempty"`
	DocsFound    int    `json:"documents_found,omitempty"`
}

// SearchOptions filter a search or a device listing.
type SearchOptions struct {
	Limit  int
	Offset int
	Domain string
	Type   string
}

func (o SearchOptions) values() url.Values {
	params := url.Values{}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		params.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.Domain != "" {
		params.Set("domain", o.Domain)
	}
	if o.Type != "" {
		params.Set("type", o.Type)
	}
	return params
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// Search runs a full-text search.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	opts.Offset = 0
	params := opts.values()
	params.Set("q", query)

	var resp SearchResponse
	if err := c.get(ctx, "/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDevices returns one page of devices.
func (c *Client) ListDevices(ctx context.Context, opts SearchOptions) (*DevicesResponse, error) {
	var resp DevicesResponse
	if err := c.get(ctx, withQuery("/devices", opts.values()), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDevice returns a device, with its indexed content when includeContent is set.
func (c *Client) GetDevice(ctx context.Context, id string, includeContent bool) (*Device, error) {
	path := "/devices/" + url.PathEscape(id)
	if includeContent {
		path += "?content=true"
	}

	var resp Device
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDevicePinout returns the pinout of a device.
func (c *Client) GetDevicePinout(ctx context.Context, id string) (*PinoutResponse, error) {
	var resp PinoutResponse
	if err := c.get(ctx, "/devices/"+url.PathEscape(id)+"/pinout", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDeviceSpecs returns the specifications of a device.
func (c *Client) GetDeviceSpecs(ctx context.Context, id string) (*SpecsResponse, error) {
	var resp SpecsResponse
	if err := c.get(ctx, "/devices/"+url.PathEscape(id)+"/specs", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDocuments returns one page of documents, optionally for one device.
func (c *Client) ListDocuments(ctx context.Context, limit, offset int, deviceID string) (*DocumentsResponse, error) {
	params := SearchOptions{Limit: limit, Offset: offset}.values()
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}

	var resp DocumentsResponse
	if err := c.get(ctx, withQuery("/documents", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDocument returns document metadata.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	var resp Document
	if err := c.get(ctx, "/documents/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DocumentDownloadURL returns the absolute download URL of a document.
func (c *Client) DocumentDownloadURL(id string) string {
	return c.config.BaseURL + "/api/" + APIVersion + "/documents/" + url.PathEscape(id) + "/download"
}

// GetStatus returns the API status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCurrentUser returns the user the API key belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var resp meResponse
	if err := c.get(ctx, "/me", &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// GetHealth returns the raw health document. The health endpoint is
// unversioned, needs no API key and is never cached or retried.
func (c *Client) GetHealth(ctx context.Context) ([]byte, error) {
	req := bus.NewRequest(http.MethodGet, "/health")
	comp, err := c.direct.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if comp.Err != nil {
		return nil, fmt.Errorf("health check: %w", comp.Err)
	}
	if comp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status %d", comp.StatusCode)
	}
	return comp.Body, nil
}

// ListUsers lists all users (admin only).
func (c *Client) ListUsers(ctx context.Context) (*UsersResponse, error) {
	var resp UsersResponse
	if err := c.get(ctx, "/admin/users", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateUser creates a user and returns its API key (admin only).
func (c *Client) CreateUser(ctx context.Context, name, role string) (*CreateUserResponse, error) {
	var resp CreateUserResponse
	if err := c.post(ctx, "/admin/users", CreateUserRequest{Name: name, Role: role}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteUser deletes a user (admin only).
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.delete(ctx, "/admin/users/"+url.PathEscape(id))
}

// RotateAPIKey issues a new API key for a user (admin only).
func (c *Client) RotateAPIKey(ctx context.Context, id string) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.post(ctx, "/admin/users/"+url.PathEscape(id)+"/rotate-key", nil, &resp); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// ListSettings returns all settings (admin only).
func (c *Client) ListSettings(ctx context.Context) (*SettingsResponse, error) {
	var resp SettingsResponse
	if err := c.get(ctx, "/admin/settings", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSetting sets a setting value (admin only).
func (c *Client) UpdateSetting(ctx context.Context, key, value string) error {
	return c.put(ctx, "/admin/settings/"+url.PathEscape(key), map[string]string{"value": value})
}

// TriggerReindex starts a reindex (admin only).
func (c *Client) TriggerReindex(ctx context.Context) error {
	return c.post(ctx, "/admin/reindex", nil, nil)
}

// GetReindexStatus returns the indexer state (admin only).
func (c *Client) GetReindexStatus(ctx context.Context) (*ReindexStatus, error) {
	var resp ReindexStatus
	if err := c.get(ctx, "/admin/reindex/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
