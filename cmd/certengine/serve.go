package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remiblancher/certengine/internal/api/router"
	"github.com/remiblancher/certengine/internal/api/server"
	"github.com/remiblancher/certengine/pkg/ca"
	"github.com/remiblancher/certengine/pkg/custody"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr            string
		tlsCert         string
		tlsKey          string
		clientCA        string
		enableCustody   bool
		tokenEnv        string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  GET  /health, /ready            Health checks
  GET  /metrics                   Prometheus metrics
  POST /api/v1/verify             Chain verification
  POST /api/v1/parse              Certificate parsing
  GET  /api/v1/capabilities       Issuer capabilities
  GET  /v1/keys/{handle}/public-key  Custody public key (with --custody)
  POST /v1/keys/{handle}/sign        Custody signature (with --custody)

The custody endpoints serve the keys of the configured kms backend to
remote certengine instances using the http backend.

Examples:
  certengine serve --addr :8443 --tls-cert server.crt --tls-key server.key
  certengine serve --tls-cert server.crt --tls-key server.key --client-ca clients-ca.crt
  CUSTODY_TOKEN=s3cret certengine --config kms.yaml serve --custody --token-env CUSTODY_TOKEN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srvCfg := a.cfg.Server
			if cmd.Flags().Changed("addr") || srvCfg.Addr == "" {
				srvCfg.Addr = addr
			}
			if cmd.Flags().Changed("custody") {
				srvCfg.Custody = enableCustody
			}
			if cmd.Flags().Changed("token-env") {
				srvCfg.TokenEnv = tokenEnv
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := ca.NewMetrics(reg)
			opts := a.options(ca.WithMetrics(metrics))

			routerCfg := &router.Config{
				Version:  version,
				Logger:   a.logger.Logger,
				Verifier: ca.NewVerifier(a.cfg.Verify, opts...),
				Issuers:  []ca.CertIssuer{ca.NewLocalIssuer(a.cfg.Local, nil, opts...)},
				Gatherer: reg,
			}
			if srvCfg.TokenEnv != "" {
				routerCfg.Token = os.Getenv(srvCfg.TokenEnv)
				if routerCfg.Token == "" {
					return fmt.Errorf("%s is empty", srvCfg.TokenEnv)
				}
			}
			if srvCfg.Custody {
				backend, closeFn, err := a.newCustody(cmd.Context())
				if err != nil {
					return err
				}
				defer closeFn()
				routerCfg.Custody = custody.NewAudited(backend, a.audit)
				routerCfg.Issuers = append(routerCfg.Issuers, ca.NewKMSIssuer(a.cfg.KMS, backend, opts...))
			}

			cfg := server.DefaultConfig()
			cfg.Addr = srvCfg.Addr
			cfg.CertFile = tlsCert
			cfg.KeyFile = tlsKey
			cfg.ClientCAFile = clientCA
			cfg.ShutdownTimeout = shutdownTimeout
			srv, err := server.New(cfg, router.New(routerCfg), a.logger.Logger)
			if err != nil {
				return err
			}

			a.logger.Info("starting api",
				zap.String("addr", cfg.Addr),
				zap.Bool("custody", srvCfg.Custody),
				zap.Bool("auth", routerCfg.Token != ""))
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8443", "Listen address")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS private key file")
	cmd.Flags().StringVar(&clientCA, "client-ca", "", "Require client certificates issued by these CAs (needs --tls-cert)")
	cmd.Flags().BoolVar(&enableCustody, "custody", false, "Serve the kms backend keys under /v1/keys")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "Environment variable holding the required bearer token")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	return cmd
}
