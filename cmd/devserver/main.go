package main

import (
	"flag"
	"net/http"

	"go.uber.org/zap"

	"tictacgo/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":50910", "listen address")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	srv := devserver.New(logger)

	logger.Info("devserver listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}
