package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Forwards admitted requests, unchanged, to the protected application
type Proxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	logger *zap.Logger
}

func New(targetURL string, logger *zap.Logger) (*Proxy, error) {
	if targetURL == "" {
		return nil, errors.New("upstream url is required")
	}

	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must be absolute: " + targetURL)
	}

	p := &Proxy{
		target: target,
		logger: logger,
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		ErrorHandler: p.handleError,
	}

	logger.Info("proxy initialized", zap.String("upstream", target.String()))

	return p, nil
}

// Forwards the request to the upstream
func (p *Proxy) Handle(c *gin.Context) {
	p.proxy.ServeHTTP(c.Writer, c.Request)
}

func (p *Proxy) Target() string {
	return p.target.String()
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Warn("upstream request failed",
		zap.String("upstream", p.target.Host),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"Upstream unavailable"}`))
}
