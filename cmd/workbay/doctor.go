package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/workbay/internal/appconfig"
	"pkt.systems/workbay/internal/workerproc"
	"pkt.systems/workbay/schema"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var email string
	var pingTimeout time.Duration
	var skipProbe bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run workbay diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			if err := checkHomeRoot(cfg.HomeRoot); err != nil {
				return err
			}
			logger.Info("doctor home root ok", "home_root", cfg.HomeRoot)

			binary, err := exec.LookPath(cfg.Worker.Binary)
			if err != nil {
				return fmt.Errorf("worker binary %q not found: %w", cfg.Worker.Binary, err)
			}
			logger.Info("doctor worker binary ok", "binary", binary)

			if !cfg.Identity.LocalAccounts {
				if _, err := exec.LookPath("useradd"); err != nil {
					return fmt.Errorf("useradd not found; system account provisioning unavailable: %w", err)
				}
				if os.Geteuid() != 0 {
					logger.Warn("doctor not running as root; account provisioning and privilege drop will fail")
				}
			}

			if skipProbe {
				logger.Info("doctor complete", "probe", false)
				return nil
			}

			probeEmail, err := schema.NormalizeEmail(email)
			if err != nil {
				return err
			}
			if err := runDoctorProbe(cmd, cfg, probeEmail, pingTimeout); err != nil {
				return err
			}
			logger.Info("doctor complete", "probe", true)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&email, "email", "doctor@workbay.local", "email used for the end-to-end probe")
	cmd.Flags().DurationVar(&pingTimeout, "ping-timeout", 15*time.Second, "timeout for the worker ping")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "skip provisioning a probe account and pinging its worker")
	return cmd
}

// runDoctorProbe provisions an account for the probe email, spawns its
// worker, and round-trips a ping.
func runDoctorProbe(cmd *cobra.Command, cfg appconfig.Config, email schema.Email, timeout time.Duration) error {
	ctx := cmd.Context()
	logger := pslog.Ctx(ctx)

	store, err := openIdentityStore(cmd, cfg)
	if err != nil {
		return err
	}
	mapping, err := store.EnsureUser(ctx, email)
	if err != nil {
		return fmt.Errorf("doctor provision: %w", err)
	}
	logger.Info("doctor account ok", "username", mapping.Username, "home", mapping.HomeDir)

	router, err := workerproc.NewRouter(ctx, workerproc.Config{
		WorkerBinary:   cfg.Worker.Binary,
		WorkerArgs:     cfg.Worker.Args,
		RequestTimeout: timeout,
		IdleTimeout:    -1,
		DropPrivileges: cfg.Worker.DropPrivileges,
	})
	if err != nil {
		return err
	}
	defer func() { _ = router.CloseAll(ctx) }()

	var result struct {
		Pong bool `json:"pong"`
	}
	if err := router.SendRequest(ctx, mapping, schema.MethodWorkerPing, nil, &result); err != nil {
		return fmt.Errorf("doctor worker ping: %w", err)
	}
	logger.Info("doctor worker ping ok", "username", mapping.Username)
	return nil
}

// checkHomeRoot verifies the home root can be created and written.
func checkHomeRoot(homeRoot string) error {
	if err := os.MkdirAll(homeRoot, 0o755); err != nil {
		return fmt.Errorf("home root %q: %w", homeRoot, err)
	}
	probe := filepath.Join(homeRoot, fmt.Sprintf(".doctor-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, []byte("ok\n"), 0o600); err != nil {
		return fmt.Errorf("home root %q not writable: %w", homeRoot, err)
	}
	return os.Remove(probe)
}
