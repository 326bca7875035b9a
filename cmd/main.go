package main

import (
	"context"

	"go.uber.org/zap"

	"fleetsync/internal/app"
	"fleetsync/internal/config"
)

func main() {
	logger, _ := zap.NewProduction(zap.AddStacktrace(zap.FatalLevel))
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.WSJWTSecret == "" {
		sugar.Warn("WS_JWT_SECRET not set, websocket endpoint is unauthenticated")
	}

	if err := app.StartSyncApp(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("failed to start sync app", "error", err)
	}
}
