package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/manuals-client/pkg/pagination"
)

// PageSize is the number of items requested per page by FetchPage.
const PageSize = 50

// listEnvelope is the paging part of every list response.
type listEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

// FetchPage implements pagination.PageFetcher for offset-paged listings
// (devices, documents). endpoint may carry filter parameters; limit and
// offset are set from pageNum. The returned data is the raw "data" array.
func (c *Client) FetchPage(ctx context.Context, endpoint string, pageNum int) ([]byte, int, error) {
	if pageNum < 1 {
		return nil, 0, fmt.Errorf("invalid page number %d", pageNum)
	}

	path, rawQuery, _ := strings.Cut(endpoint, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("parse endpoint query: %w", err)
	}
	params.Set("limit", strconv.Itoa(PageSize))
	if offset := (pageNum - 1) * PageSize; offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	} else {
		params.Del("offset")
	}

	var env listEnvelope
	if err := c.call(ctx, http.MethodGet, withQuery(path, params), nil, &env); err != nil {
		return nil, 0, err
	}
	return env.Data, pagination.TotalPages(env.Total, PageSize), nil
}

// ListAllDevices fetches every page of the device listing in parallel.
func (c *Client) ListAllDevices(ctx context.Context, opts SearchOptions) ([]Device, error) {
	opts.Limit, opts.Offset = 0, 0
	endpoint := withQuery("/devices", opts.values())

	fetcher := pagination.NewBatchFetcher(c, pagination.DefaultConfig())
	pages, err := fetcher.FetchAllPages(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, data := range pagination.Ordered(pages) {
		var page []Device
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode device page: %w", err)
		}
		devices = append(devices, page...)
	}
	return devices, nil
}
