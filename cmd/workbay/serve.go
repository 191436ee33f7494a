package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/workbay"
	"pkt.systems/workbay/core"
	"pkt.systems/workbay/httpapi"
	"pkt.systems/workbay/internal/appconfig"
	"pkt.systems/workbay/internal/identity"
	"pkt.systems/workbay/internal/transfer"
	"pkt.systems/workbay/internal/workerproc"
	"pkt.systems/workbay/schema"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workbay service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			server, err := buildServer(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", cfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// buildServer wires the identity store, worker router, and transfer
// stores into a compositor. Shared by serve and doctor.
func buildServer(ctx context.Context, cfg appconfig.Config) (workbay.Server, error) {
	accounts := selectAccounts(cfg)
	identities, err := identity.NewStore(ctx, identity.Config{
		HomeRoot:       cfg.HomeRoot,
		UsernamePrefix: cfg.Identity.UsernamePrefix,
	}, accounts)
	if err != nil {
		return nil, err
	}

	router, err := workerproc.NewRouter(ctx, workerproc.Config{
		WorkerBinary:   cfg.Worker.Binary,
		WorkerArgs:     cfg.Worker.Args,
		RequestTimeout: time.Duration(cfg.Worker.RequestTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.Worker.IdleTimeoutMinutes) * time.Minute,
		DropPrivileges: cfg.Worker.DropPrivileges,
	})
	if err != nil {
		return nil, err
	}

	resolve := func(username schema.Username, workspace schema.WorkspaceName, relativePath string) (string, error) {
		return core.ResolveSafePath(cfg.HomeRoot, username, workspace, relativePath)
	}
	chown := func(path string, username schema.Username) error {
		account, ok, err := accounts.Lookup(ctx, username)
		if err != nil || !ok {
			return err
		}
		return identity.ChownTree(path, account.UID, account.GID)
	}
	defaultTTL := time.Duration(cfg.Transfer.DefaultTTLMinutes) * time.Minute

	downloads, err := transfer.NewStore(ctx, schema.TransferDownload, transfer.Config{
		Resolve:    resolve,
		DefaultTTL: defaultTTL,
	})
	if err != nil {
		return nil, err
	}
	uploads, err := transfer.NewStore(ctx, schema.TransferUpload, transfer.Config{
		Resolve:        resolve,
		ChownUpload:    chown,
		MaxUploadBytes: int64(cfg.Transfer.MaxUploadMB) << 20,
		DefaultTTL:     defaultTTL,
	})
	if err != nil {
		return nil, err
	}

	serverCfg := workbay.ServerConfig{
		Service: schema.ServiceConfig{
			HomeRoot: cfg.HomeRoot,
			BaseURL:  cfg.HTTP.BaseURL,
			BasePath: cfg.HTTP.BasePath,
		},
		HTTP: httpapi.Config{
			Addr:     cfg.HTTP.Addr,
			BaseURL:  cfg.HTTP.BaseURL,
			BasePath: cfg.HTTP.BasePath,
		},
	}
	deps := workbay.ServerDeps{
		ServiceDeps: core.ServiceDeps{
			Identities: identities,
			Router:     router,
			Downloads:  downloads,
			Uploads:    uploads,
			Logger:     pslog.Ctx(ctx),
		},
		Downloads: downloads,
		Uploads:   uploads,
	}
	return workbay.New(serverCfg, deps, workbay.WithHTTP())
}

func selectAccounts(cfg appconfig.Config) identity.Accounts {
	if cfg.Identity.LocalAccounts {
		return identity.NewLocalAccounts(cfg.Identity.LocalUIDBase)
	}
	return identity.SystemAccounts{}
}
