package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/workbay/internal/appconfig"
	"pkt.systems/workbay/internal/identity"
	"pkt.systems/workbay/schema"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage provisioned workbay accounts",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersInfoCmd(&cfgPath))
	cmd.AddCommand(newUsersResetCmd(&cfgPath))

	return cmd
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned account homes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			usernames, err := listAccountHomes(cfg.HomeRoot, cfg.Identity.UsernamePrefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, username := range usernames {
				_, _ = fmt.Fprintln(out, username)
			}
			return nil
		},
	}
}

func newUsersInfoCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info <email>",
		Short: "Show account mapping and disk usage for an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			store, err := openIdentityStore(cmd, cfg)
			if err != nil {
				return err
			}
			info, err := store.GetUserInfo(cmd.Context(), email)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "email:      %s\n", info.Mapping.Email)
			_, _ = fmt.Fprintf(out, "username:   %s\n", info.Mapping.Username)
			_, _ = fmt.Fprintf(out, "uid:        %d\n", info.Mapping.UID)
			_, _ = fmt.Fprintf(out, "gid:        %d\n", info.Mapping.GID)
			_, _ = fmt.Fprintf(out, "home:       %s\n", info.Mapping.HomeDir)
			_, _ = fmt.Fprintf(out, "disk used:  %d bytes\n", info.DiskUsageBytes)
			_, _ = fmt.Fprintf(out, "disk free:  %d bytes\n", info.DiskFreeBytes)
			return nil
		},
	}
}

func newUsersResetCmd(cfgPath *string) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset <email>",
		Short: "Wipe an account home and rebuild the skeleton",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("reset is destructive; re-run with --confirm")
			}
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			store, err := openIdentityStore(cmd, cfg)
			if err != nil {
				return err
			}
			mapping, err := store.ResetUser(cmd.Context(), email)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("account reset", "email", email, "username", mapping.Username)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reset %s (%s)\n", mapping.Email, mapping.Username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the destructive reset")
	return cmd
}

func openIdentityStore(cmd *cobra.Command, cfg appconfig.Config) (*identity.Store, error) {
	return identity.NewStore(cmd.Context(), identity.Config{
		HomeRoot:       cfg.HomeRoot,
		UsernamePrefix: cfg.Identity.UsernamePrefix,
	}, selectAccounts(cfg))
}

// listAccountHomes enumerates home directories carrying the account
// prefix. The home root is the durable record of provisioned accounts.
func listAccountHomes(homeRoot, prefix string) ([]string, error) {
	entries, err := os.ReadDir(homeRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var usernames []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)
	return usernames, nil
}
