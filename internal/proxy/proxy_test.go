package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// httputil.ReverseProxy asks the writer for CloseNotify, which the plain
// recorder does not implement
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func newRecorder() closeNotifyRecorder {
	return closeNotifyRecorder{httptest.NewRecorder()}
}

func TestNew_RejectsBadTargets(t *testing.T) {
	for _, target := range []string{"", "localhost:3001", "/relative", "http://[::1"} {
		_, err := New(target, zap.NewNop())
		assert.Error(t, err, target)
	}
}

func TestHandle_ForwardsRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Seen-Path", r.URL.RequestURI())
		w.Header().Set("X-Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	p, err := New(upstream.URL, zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.NoRoute(p.Handle)

	req := httptest.NewRequest(http.MethodPost, "/api/bank/transfer?amount=5", http.NoBody)
	req.RemoteAddr = "10.0.0.1:40000"
	w := newRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/api/bank/transfer?amount=5", w.Header().Get("X-Seen-Path"))
	assert.Equal(t, "10.0.0.1", w.Header().Get("X-Seen-Forwarded-For"))
}

func TestHandle_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	p, err := New(target, zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	r.NoRoute(p.Handle)

	w := newRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bank", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Upstream unavailable"}`, w.Body.String())
}
