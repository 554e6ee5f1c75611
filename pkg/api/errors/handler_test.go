package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	t.Run("passes through successful response", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success"))
			return nil
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "success", rec.Body.String())
	})

	t.Run("converts bad request to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return mcperrors.NewBadRequestError("invalid input", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid input")
	})

	t.Run("converts not found to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return mcperrors.NewNotFoundError("resource not found", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "resource not found")
	})

	t.Run("converts conflict to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return mcperrors.NewConflictError("resource already exists", nil)
		})

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "resource already exists")
	})

	t.Run("masks internal error details", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return mcperrors.NewInternalError("sensitive database error details", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.False(t, strings.Contains(rec.Body.String(), "sensitive"))
		require.Contains(t, rec.Body.String(), "Internal Server Error")
	})

	t.Run("upstream error surfaces details alongside a generic message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return mcperrors.NewUpstreamError("rpc failed", errors.New("backend says: disk full"))
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Contains(t, rec.Body.String(), "upstream error")
		require.Contains(t, rec.Body.String(), "disk full")
	})

	t.Run("plain error without a mcpbridge type defaults to 500 with generic message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return errors.New("plain error without code")
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.False(t, strings.Contains(rec.Body.String(), "plain error"))
		require.Contains(t, rec.Body.String(), "Internal Server Error")
	})

	t.Run("wrapped mcpbridge error is still recognized through errors.As", func(t *testing.T) {
		t.Parallel()

		sentinel := mcperrors.NewNotFoundError("not found", nil)

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return fmt.Errorf("workload lookup failed: %w", sentinel)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "workload lookup failed")
	})
}

func TestHandlerWithError_Type(t *testing.T) {
	t.Parallel()

	var handler HandlerWithError = func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	wrapped := ErrorHandler(handler)
	require.NotNil(t, wrapped)
}
