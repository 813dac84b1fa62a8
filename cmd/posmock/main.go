// Command posmock serves a fake POS server for running a terminal without
// the real backend.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/wtfpos/posd/internal/mockserver"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	token := flag.String("token", "dev-token", "bearer token clients must send")
	baseURL := flag.String("base-url", "", "URL clients use to reach this server (default http://<addr>)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	base := *baseURL
	if base == "" {
		base = "http://" + *addr
	}
	srv := mockserver.New(mockserver.SampleCatalog(strings.TrimSuffix(base, "/")), *token, logger)

	logger.Info("mock POS server listening", zap.String("addr", *addr), zap.String("base_url", base))
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
