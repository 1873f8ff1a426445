package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"

	_ "github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/amqppoll"
	_ "github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/gateway"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/config"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/manager"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/telemetry"
	grpctransport "github.com/wolpertingerlabs/mcp-secure-proxy/internal/transport/grpc"
	httptransport "github.com/wolpertingerlabs/mcp-secure-proxy/internal/transport/http"
)

// Params bundles the flags serveCmd resolves before building the app graph.
type Params struct {
	ConfigFile string
	GRPCAddr   string
	HTTPAddr   string
}

// NewApp builds the fx dependency graph: config load, telemetry, the
// ingestor manager, and both transport stand-ins, wired with OnStart/OnStop
// lifecycle hooks the way the teacher's cmd/fx.go wires postgres/service/
// grpc modules.
func NewApp(p Params) *fx.App {
	return fx.New(
		fx.Provide(
			func() Params { return p },
			ProvideLogger,
			ProvideConfigLoader,
			ProvideMeterProvider,
			ProvideCounters,
			ProvideManager,
			ProvideGRPCServer,
			ProvideHTTPRouter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func ProvideLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func ProvideConfigLoader(p Params, logger *slog.Logger) *config.Loader {
	return config.NewLoader(p.ConfigFile, logger)
}

func ProvideMeterProvider() *metric.MeterProvider {
	return metric.NewMeterProvider()
}

func ProvideCounters(mp *metric.MeterProvider) (*telemetry.Counters, error) {
	return telemetry.New(mp.Meter("mcp-secure-proxy"))
}

func ProvideManager(logger *slog.Logger) *manager.Manager {
	return manager.New(logger)
}

func ProvideGRPCServer(mgr *manager.Manager, logger *slog.Logger) *grpctransport.Server {
	return grpctransport.NewServer(mgr)
}

func ProvideHTTPRouter(mgr *manager.Manager) http.Handler {
	return httptransport.NewRouter(mgr)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	logger *slog.Logger,
	loader *config.Loader,
	mgr *manager.Manager,
	grpcServer *grpctransport.Server,
	httpRouter http.Handler,
) {
	var httpSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			mgr.Start(ctx, cfg.Connections, nil)

			gs := grpctransport.NewGRPCServer(grpcServer, logger)
			lis, err := net.Listen("tcp", p.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := gs.Serve(lis); err != nil {
					logger.Error("grpc server stopped", slog.Any("err", err))
				}
			}()

			httpSrv = &http.Server{Addr: p.HTTPAddr, Handler: httpRouter}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped", slog.Any("err", err))
				}
			}()

			loader.Watch(func(cfg config.Config) {
				mgr.Start(context.Background(), cfg.Connections, nil)
			})

			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Stop(ctx)
			if httpSrv != nil {
				return httpSrv.Shutdown(ctx)
			}
			return nil
		},
	})
}
