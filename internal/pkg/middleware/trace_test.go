package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTraceRouter(captured *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		*captured = TraceID(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestTraceMiddleware(t *testing.T) {
	t.Run("an upstream trace id is carried through", func(t *testing.T) {
		var got string
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Trace-ID", "upstream-42")

		newTraceRouter(&got).ServeHTTP(w, req)

		assert.Equal(t, "upstream-42", got)
		assert.Equal(t, "upstream-42", w.Header().Get("X-Trace-ID"))
	})

	t.Run("a request without a trace id gets one", func(t *testing.T) {
		var got string
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)

		newTraceRouter(&got).ServeHTTP(w, req)

		assert.NotEmpty(t, got)
		assert.Equal(t, got, w.Header().Get("X-Trace-ID"))
	})
}
