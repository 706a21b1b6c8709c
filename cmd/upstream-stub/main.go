// Stands in for the school application during local runs: answers every
// request with the caller headers the gateway forwarded.
package main

import (
	"encoding/json"
	"flag"
	"net/http"

	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message":    "hello from upstream stub",
			"path":       r.URL.Path,
			"request_id": r.Header.Get("X-Request-ID"),
		})
	})

	logger.Info("upstream stub starting", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("upstream stub failed", zap.Error(err))
	}
}
