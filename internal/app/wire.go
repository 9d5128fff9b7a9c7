//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"aitrade/internal/config"
)

func buildApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		provideStore,
		provideMetrics,
		provideMonitor,
		provideMarket,
		provideRisk,
		provideBotBuilder,
		provideManager,
		provideWebServer,
		newApp,
	)
	return nil, nil, nil
}
