// Command api-server serves the cravekart storefront API.
package main

import (
	"context"
	"runtime/debug"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/cravekart/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		if info, ok := debug.ReadBuildInfo(); ok {
			lg.Info("Starting api-server",
				zap.String("version", info.Main.Version),
				zap.String("go", info.GoVersion),
			)
		}
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		return appkg.Run(ctx, lg, m, cfg)
	})
}
