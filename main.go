package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yumyai/gcap/logger"
)

const VERSION = "0.1.0"

func main() {

	// Logger is re-initialised once flags are parsed
	if err := logger.InitLogger(logger.ParseLevel(os.Getenv("GCAP_LOG_LEVEL"))); err != nil {
		panic(err)
	}
	defer logger.Sync() // Make sure that the buffered is flushed.

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("gcap failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
