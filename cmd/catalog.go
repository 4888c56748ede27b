package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/spf13/cobra"
)

func newProfilesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect the identity profiles the host rotates through",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List identity profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profiles, err := app.profiles.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range profiles {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dx%d\t%s\t%s\n",
					p.Name, p.Viewport.Width, p.Viewport.Height, p.Locale, p.UserAgent); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in profiles to profiles.toml for editing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := app.profiles.Path()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := app.profiles.SaveAll(cmd.Context(), domain.DefaultIdentityProfiles()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(listCmd, initCmd)
	return cmd
}

func newProxiesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Manage the proxies the host may launch behind",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured proxies with credentials redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proxies, err := app.proxies.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(proxies) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no proxies configured")
				return err
			}
			for _, p := range proxies {
				compat := "direct-only"
				if p.TargetCompatible {
					compat = "target-compatible"
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Redacted(), compat); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var descriptor domain.ProxyDescriptor
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.proxies.Add(cmd.Context(), descriptor); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", descriptor.Redacted())
			return err
		},
	}
	addCmd.Flags().StringVar(&descriptor.URL, "url", "", "proxy URL (http, https or socks5)")
	addCmd.Flags().StringVar(&descriptor.Username, "username", "", "proxy username")
	addCmd.Flags().StringVar(&descriptor.Password, "password", "", "proxy password")
	addCmd.Flags().BoolVar(&descriptor.TargetCompatible, "target-compatible", true, "proxy is known to reach the target")
	_ = addCmd.MarkFlagRequired("url")

	cmd.AddCommand(listCmd, addCmd)
	return cmd
}

func newSecretCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets such as the challenge solver API key",
	}

	var key, value string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store a secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(value) == "" {
				return errors.New("secret value must not be empty")
			}
			if err := app.secretStore.Put(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("store secret %s: %w", key, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", key)
			return err
		},
	}
	setCmd.Flags().StringVar(&key, "key", ports.SecretKeySolverAPIKey, "secret key")
	setCmd.Flags().StringVar(&value, "value", "", "secret value")
	_ = setCmd.MarkFlagRequired("value")

	var deleteKey string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a stored secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.secretStore.Delete(cmd.Context(), deleteKey); err != nil {
				return fmt.Errorf("delete secret %s: %w", deleteKey, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", deleteKey)
			return err
		},
	}
	deleteCmd.Flags().StringVar(&deleteKey, "key", ports.SecretKeySolverAPIKey, "secret key")

	cmd.AddCommand(setCmd, deleteCmd)
	return cmd
}
