package main

import (
	"github.com/hongjun500/agora-go/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.L().WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		Module(),
	).Run()
}
