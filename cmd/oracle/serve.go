package main

import (
	"context"
	"fmt"

	"foreign-oracle/config"
	"foreign-oracle/logger"
	"foreign-oracle/middleware"
	"foreign-oracle/oracle"
	"foreign-oracle/registry"
	"foreign-oracle/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		port          int
		host          string
		advertiseAddr string
		etcdEndpoints []string
		distinctCodes bool
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve resolve_foreign_call over JSON-RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				opts.Port = port
			}
			if flags.Changed("host") {
				opts.Host = host
			}
			if flags.Changed("advertise") {
				opts.AdvertiseAddr = advertiseAddr
			}
			if flags.Changed("etcd") {
				opts.EtcdEndpoints = etcdEndpoints
			}
			if flags.Changed("distinct-fault-codes") {
				opts.DistinctFaultCodes = distinctCodes
			}
			if flags.Changed("log-level") {
				opts.Log.Level = logLevel
			}

			if err := opts.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", 8095, "listen port (env "+config.EnvPort+")")
	flags.StringVar(&host, "host", "", "listen host")
	flags.StringVar(&advertiseAddr, "advertise", "", "address registered for discovery")
	flags.StringSliceVar(&etcdEndpoints, "etcd", nil, "etcd endpoints for discovery registration")
	flags.BoolVar(&distinctCodes, "distinct-fault-codes", false, "give each fault kind its own JSON-RPC code")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func runServer(ctx context.Context, opts *config.Options) error {
	log, err := logger.New(opts.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	var reg registry.Registry
	if len(opts.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(opts.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := server.NewServer(
		server.WithLogger(log),
		server.WithMetricsRegistry(metrics),
		server.WithDistinctFaultCodes(opts.DistinctFaultCodes),
		server.WithMaxBodyBytes(opts.MaxBodyBytes),
		server.WithServiceName(opts.ServiceName),
		server.WithRegistryTTL(opts.RegistryTTL),
	)

	// Recovery sits inside Timeout so it runs on the goroutine that calls
	// the method.
	srv.Use(middleware.NewMetrics(srv.Metrics()).Middleware(srv.HasMethod))
	srv.Use(middleware.LoggingMiddleware(log))
	if opts.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	}
	srv.Use(middleware.TimeOutMiddleware(opts.RequestTimeout.Duration))
	srv.Use(middleware.RecoveryMiddleware(log))
	oracle.Register(srv)

	log.Info("Available functions", zap.Strings("functions", oracle.FunctionNames()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(opts.ListenAddr(), opts.Advertise(), reg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down", zap.Duration("timeout", opts.ShutdownTimeout.Duration))
	if err := srv.Shutdown(opts.ShutdownTimeout.Duration); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}
