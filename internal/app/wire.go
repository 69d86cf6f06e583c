//go:build wireinject

package app

import (
	"github.com/amaumene/acerpal/internal/api"
	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/downloader"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/amaumene/acerpal/internal/services/acer"
	"github.com/google/wire"
	"github.com/sirupsen/logrus"
)

var serviceSet = wire.NewSet(
	ProvideTracerProvider,
	ProvideDatabase,
	ProvideBlacklist,
	ProvideFetchClient,
	ProvideSearchHistory,
	metrics.New,
	progress.NewStore,
	acer.NewClient,
)

var downloadSet = wire.NewSet(
	ProvideDownloader,
	wire.Bind(new(queue.Runner), new(*downloader.Downloader)),
	ProvideQueue,
	persistence.NewSnapshotter,
)

var controllerSet = wire.NewSet(
	controllers.NewDownloadController,
	controllers.NewSearchController,
	controllers.NewFileController,
	controllers.NewCleanupController,
)

// Initialize builds the whole application graph
func Initialize(cfg *config.Config, logger *logrus.Logger) (*App, func(), error) {
	wire.Build(
		serviceSet,
		downloadSet,
		controllerSet,
		ProvideScheduler,
		api.NewServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
