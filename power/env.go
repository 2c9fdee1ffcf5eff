package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/metrics"
	"github.com/nci/nightlights/processor"
	"github.com/nci/nightlights/store/filestore"
	"github.com/nci/nightlights/task"
	"github.com/nci/nightlights/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// environment holds everything a job run needs, opened from one config
// namespace.
type environment struct {
	logger    *zap.Logger
	catalogue *mas.Catalogue
	records   metrics.Logger
	registry  *prometheus.Registry
	server    *http.Server
	runner    *task.Runner
}

func newEnvironment(config *utils.Config, out io.Writer) (_ *environment, err error) {
	svc := config.Service
	env := &environment{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	env.logger, err = utils.NewLogger(svc.LogLevel)
	if err != nil {
		return nil, err
	}
	env.logger = env.logger.With(zap.String("namespace", config.NameSpace))

	env.catalogue, err = mas.Open(svc.CatalogueDriver, svc.CatalogueDSN,
		mas.WithMemcache(svc.Memcache),
		mas.WithLogger(env.logger))
	if err != nil {
		return nil, err
	}
	if err = env.catalogue.Migrate(); err != nil {
		return nil, err
	}

	gs, err := filestore.New(svc.StoreRoot, env.catalogue, env.logger)
	if err != nil {
		return nil, err
	}

	evalOpts := []processor.Option{processor.WithLogger(env.logger)}
	if svc.Concurrency > 0 {
		evalOpts = append(evalOpts, processor.WithConcurrency(svc.Concurrency))
	}
	evaluator := processor.NewEvaluator(gs, evalOpts...)

	if svc.RunLogDir != "" {
		env.records, err = metrics.NewFileLogger(svc.RunLogDir, 0, 0, false)
		if err != nil {
			return nil, err
		}
	} else {
		env.records = metrics.NewWriterLogger(out)
	}

	m := metrics.NewMetrics(env.registry)
	if svc.MetricsAddr != "" {
		if err = env.serveMetrics(svc.MetricsAddr); err != nil {
			return nil, err
		}
	}

	env.runner = task.NewRunner(config, evaluator,
		task.WithLogger(env.logger),
		task.WithMetrics(m),
		task.WithRecords(env.records),
		task.WithOutput(out))
	return env, nil
}

func (env *environment) serveMetrics(addr string) error {
	l, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))
	env.server = &http.Server{Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	go func() {
		if err := env.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	env.logger.Info("serving metrics", zap.String("addr", l.Addr().String()))
	return nil
}

// Close releases the environment in reverse order of construction.
func (env *environment) Close() {
	if env.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = env.server.Shutdown(ctx)
		cancel()
	}
	if fl, ok := env.records.(*metrics.FileLogger); ok {
		fl.Close()
	}
	if env.catalogue != nil {
		_ = env.catalogue.Close()
	}
	if env.logger != nil {
		_ = env.logger.Sync()
	}
}
