package main

import (
	stdLog "log"
	"time"

	"github.com/joho/godotenv"
	"github.com/nordlib/patron-engine/app"
	"github.com/nordlib/patron-engine/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdLog.Fatal("load envs from .env ", zap.Error(err))
	}
	cfg := config.NewConfig(
		config.WithLogLevel(zapcore.DebugLevel),
		config.WithWriteTimeout(time.Minute),
	)

	app.Run(&cfg)
}
