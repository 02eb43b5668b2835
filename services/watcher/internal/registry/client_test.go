package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func pageHandler(t *testing.T, pages map[string]listResponse) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		page, ok := pages[cursor]
		if !ok {
			http.Error(w, "unknown cursor", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}
}

func makePage(next string, names ...string) listResponse {
	var page listResponse
	for _, n := range names {
		page.Servers = append(page.Servers, model.Server{Name: n, Version: "1.0.0"})
	}
	page.Metadata.NextCursor = next
	page.Metadata.Count = len(names)
	return page
}

func TestListServersPaginates(t *testing.T) {
	pages := map[string]listResponse{
		"":   makePage("c1", "a", "b"),
		"c1": makePage("c2", "c", "d"),
		"c2": makePage("", "e"),
	}

	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		pageHandler(t, pages)(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2, time.Second, 0, 0, srv.Client(), testLogger())
	servers, err := c.ListServers(context.Background())
	require.NoError(t, err)

	var names []string
	for _, s := range servers {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestListServersRetriesTransientErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(makePage("", "a"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100, time.Second, 3, time.Millisecond, srv.Client(), testLogger())
	servers, err := c.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestListServersFailsAfterRetryBudget(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100, time.Second, 2, time.Millisecond, srv.Client(), testLogger())
	servers, err := c.ListServers(context.Background())
	require.Error(t, err)
	assert.Nil(t, servers)
	// initial attempt plus two retries
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestListServersNoPartialResultOnLaterPageFailure(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(makePage("c1", "a", "b"))
			return
		}
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100, time.Second, 0, 0, srv.Client(), testLogger())
	servers, err := c.ListServers(context.Background())
	require.Error(t, err)
	assert.Nil(t, servers)
}

func TestListServersHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(srv.URL, 100, 10*time.Second, 5, time.Minute, srv.Client(), testLogger())
	_, err := c.ListServers(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListServersPerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100, 10*time.Millisecond, 0, 0, srv.Client(), testLogger())
	_, err := c.ListServers(context.Background())
	require.Error(t, err)
}
