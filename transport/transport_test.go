// ABOUTME: Tests for the transport adapter types.
// ABOUTME: Covers close-error extraction and the default HTTP executor.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseError_Error(t *testing.T) {
	assert.Equal(t, "connection closed with code 4000",
		(&CloseError{Code: 4000}).Error())
	assert.Equal(t, "connection closed with code 4004: authentication failed",
		(&CloseError{Code: 4004, Reason: "authentication failed"}).Error())
}

func TestAsCloseError(t *testing.T) {
	ce, ok := AsCloseError(&CloseError{Code: 4009})
	require.True(t, ok)
	assert.Equal(t, 4009, ce.Code)

	wrapped := fmt.Errorf("reading frame: %w", &CloseError{Code: 4000})
	ce, ok = AsCloseError(wrapped)
	require.True(t, ok, "close codes survive wrapping")
	assert.Equal(t, 4000, ce.Code)

	_, ok = AsCloseError(errors.New("plain failure"))
	assert.False(t, ok)

	_, ok = AsCloseError(nil)
	assert.False(t, ok)
}

func TestHTTPExecutor_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "token-abc", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"content":"hi"}`, string(body))

		w.Header().Set("X-RateLimit-Remaining", "4")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"1"}`)
	}))
	defer srv.Close()

	exec := &HTTPExecutor{}
	header := make(http.Header)
	header.Set("Authorization", "token-abc")

	resp, err := exec.Execute(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/channels/1/messages",
		Header: header,
		Body:   []byte(`{"content":"hi"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, `{"id":"1"}`, string(resp.Body))
}

func TestHTTPExecutor_Execute_EmptyBodyRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Empty(t, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exec := &HTTPExecutor{}
	resp, err := exec.Execute(context.Background(), Request{
		Method: http.MethodDelete,
		URL:    srv.URL + "/messages/1",
		Header: make(http.Header),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestHTTPExecutor_Execute_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &HTTPExecutor{}
	_, err := exec.Execute(ctx, Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Header: make(http.Header),
	})
	assert.Error(t, err)
}

func TestHTTPExecutor_Execute_BadURL(t *testing.T) {
	exec := &HTTPExecutor{}
	_, err := exec.Execute(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "://not-a-url",
		Header: make(http.Header),
	})
	assert.Error(t, err)
}
