package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/metrics"
	"github.com/cordon-ai/cordon/internal/session"
	"github.com/cordon-ai/cordon/internal/web"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the HTTP and websocket control plane",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, false)
			if err != nil {
				return err
			}
			sc, err := sessionConfig(cfg, client)
			if err != nil {
				return err
			}
			dir, err := stateDir(cfg)
			if err != nil {
				return err
			}

			storeDB, _, closeFn, err := openMemoryDB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			store := session.NewStore(storeDB)
			if n, err := store.Prune(cmd.Context(), cfg.Retention.KeepLast, cfg.Retention.KeepDays); err != nil {
				log.Warn().Err(err).Msg("session prune failed")
			} else if n > 0 {
				log.Info().Int("removed", n).Msg("pruned stale sessions")
			}

			reg := metrics.NewRegistry()
			sc.Metrics = reg
			srv := web.NewServer(web.Config{
				Session:       sc,
				StateDir:      dir,
				Store:         store,
				Metrics:       reg,
				Log:           log.Logger,
				ChatRateLimit: cfg.Server.ChatRateLimit,
				ToolRateLimit: cfg.Server.ToolRateLimit,
			})
			defer srv.Close()

			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			log.Info().Str("addr", addr).Msg("serving")
			return httpSrv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.host/server.port")
	return cmd
}
