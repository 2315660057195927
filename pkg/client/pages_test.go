package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/Sternrassler/manuals-client/internal/testutil"
)

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()

	var (
		mu        sync.Mutex
		lastQuery string
	)
	list := testutil.NewDeviceListHandler(120)
	mock.SetHandler(testutil.APIPrefix+"/devices", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		lastQuery = r.URL.RawQuery
		mu.Unlock()
		list(w, r)
	})

	c, _ := newTestClient(t, mock)

	tests := []struct {
		page       int
		wantOffset string
	}{
		{1, ""},
		{2, "50"},
		{3, "100"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			data, total, err := c.FetchPage(context.Background(), "/devices?domain=mcu", tt.page)
			if err != nil {
				t.Fatalf("FetchPage() failed: %v", err)
			}
			if total != 3 {
				t.Errorf("total pages = %d, want 3", total)
			}
			if len(data) == 0 || data[0] != '[' {
				t.Errorf("data should be the raw device array, got %s", data)
			}
			want := "domain=mcu&limit=" + strconv.Itoa(PageSize)
			if tt.wantOffset != "" {
				want += "&offset=" + tt.wantOffset
			}
			mu.Lock()
			got := lastQuery
			mu.Unlock()
			if got != want {
				t.Errorf("query = %q, want %q", got, want)
			}
		})
	}
}

func TestFetchPage_InvalidPage(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()

	c, _ := newTestClient(t, mock)
	if _, _, err := c.FetchPage(context.Background(), "/devices", 0); err == nil {
		t.Fatal("Expected error for page 0")
	}
	if mock.GetRequestCount() != 0 {
		t.Error("Invalid page must not reach the API")
	}
}

func TestListAllDevices(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()
	mock.SetHandler(testutil.APIPrefix+"/devices", testutil.NewDeviceListHandler(120))

	c, _ := newTestClient(t, mock)

	devices, err := c.ListAllDevices(context.Background(), SearchOptions{})
	if err != nil {
		t.Fatalf("ListAllDevices() failed: %v", err)
	}
	if len(devices) != 120 {
		t.Fatalf("got %d devices, want 120", len(devices))
	}
	for i, d := range devices {
		if want := fmt.Sprintf("dev-%03d", i); d.ID != want {
			t.Fatalf("devices[%d].ID = %q, want %q", i, d.ID, want)
		}
	}
	if n := mock.GetPathCount("GET " + testutil.APIPrefix + "/devices"); n != 3 {
		t.Errorf("Expected 3 page requests, got %d", n)
	}
}

func TestListAllDevices_PageFailure(t *testing.T) {
	mock := testutil.NewMockManuals()
	defer mock.Close()

	list := testutil.NewDeviceListHandler(120)
	mock.SetHandler(testutil.APIPrefix+"/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "50" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "bad offset"}`))
			return
		}
		list(w, r)
	})

	c, _ := newTestClient(t, mock)
	if _, err := c.ListAllDevices(context.Background(), SearchOptions{}); err == nil {
		t.Fatal("Expected error when a page fails")
	}
}
