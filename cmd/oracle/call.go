package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"foreign-oracle/client"
	"foreign-oracle/config"
	"foreign-oracle/loadbalance"
	"foreign-oracle/logger"
	"foreign-oracle/registry"
	"foreign-oracle/resolver"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var (
		addrs         []string
		etcdEndpoints []string
		serviceName   string
		balancer      string
		retries       int
		timeout       time.Duration
		text          bool
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "call <function> [hex-byte ...]",
		Short: "Resolve a foreign call against a running oracle",
		Example: `  oracle call base64_encode_standard 00 01 02
  oracle call --text base64_encode_url_safe "hello world"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if text {
				if len(args) != 2 {
					return fmt.Errorf("--text takes exactly one input string")
				}
				data = []byte(args[1])
			} else {
				decoded, err := resolver.DecodeHex(args[1:])
				if err != nil {
					return err
				}
				data = decoded
			}

			var reg registry.Registry
			if len(etcdEndpoints) > 0 {
				etcdReg, err := registry.NewEtcdRegistry(etcdEndpoints)
				if err != nil {
					return err
				}
				defer etcdReg.Close()
				reg = etcdReg
			} else {
				reg = registry.NewStaticRegistry(serviceName, addrs...)
			}

			bal, err := loadbalance.New(balancer)
			if err != nil {
				return err
			}

			logOpts := config.Default().Log
			logOpts.Level = logLevel
			log, err := logger.New(logOpts)
			if err != nil {
				return err
			}
			defer log.Sync()

			cli := client.NewClient(reg, bal,
				client.WithServiceName(serviceName),
				client.WithRetry(retries, 100*time.Millisecond),
				client.WithLogger(log),
				client.WithHTTPClient(&http.Client{Timeout: timeout}),
			)
			defer cli.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out, err := cli.ResolveForeignCall(ctx, args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&addrs, "addr", []string{"127.0.0.1:8095"}, "oracle addresses")
	flags.StringSliceVar(&etcdEndpoints, "etcd", nil, "discover oracles through etcd instead of --addr")
	flags.StringVar(&serviceName, "service", "ForeignCallOracle", "service name to discover")
	flags.StringVar(&balancer, "balancer", "round_robin", "round_robin or weighted_random")
	flags.IntVar(&retries, "retries", 2, "retries after transport failures")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "overall call timeout")
	flags.BoolVar(&text, "text", false, "treat the input as a UTF-8 string instead of hex bytes")
	flags.StringVar(&logLevel, "log-level", "warn", "log level for retries and discovery updates")
	return cmd
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the transformations the oracle resolves",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, fn := range resolver.Functions() {
				fmt.Fprintln(cmd.OutOrStdout(), fn)
			}
		},
	}
}
