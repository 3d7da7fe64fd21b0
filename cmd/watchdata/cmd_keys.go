package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"watchdata/internal/auth"
)

// openKeys opens the API key database directly. It works while auth is
// disabled so keys can be provisioned before enabling it.
func openKeys() (*auth.Auth, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.Auth.Pepper.Value()) < 16 {
		return nil, fmt.Errorf("auth.pepper (WATCHDATA_AUTH_PEPPER) must be set to at least 16 characters")
	}
	return auth.New(cfg.Auth.DBPath, cfg.Auth.Pepper.Value(), newLogger(cfg.Log))
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysCreateCmd())
	cmd.AddCommand(keysRevokeCmd())
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openKeys()
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.ListKeys(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(keys))
			for i, k := range keys {
				state := "active"
				if k.Revoked {
					state = "revoked"
				}
				rows[i] = []string{k.ID, k.Name, k.Prefix, k.Scopes.String(), k.CreatedAt.Format(time.RFC3339), state}
			}
			return output(keys, []string{"ID", "NAME", "PREFIX", "SCOPES", "CREATED", "STATE"}, rows)
		},
	}
}

func keysCreateCmd() *cobra.Command {
	var (
		scopes string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := auth.ParseScopes(scopes)
			if err != nil {
				return err
			}
			if s == 0 {
				return fmt.Errorf("at least one scope required (read, import, admin)")
			}

			var expires *time.Time
			if ttl > 0 {
				t := time.Now().Add(ttl).UTC()
				expires = &t
			}

			a, err := openKeys()
			if err != nil {
				return err
			}
			defer a.Close()

			key, info, err := a.CreateKey(cmd.Context(), args[0], s, expires, "cli")
			if err != nil {
				return err
			}
			return output(map[string]any{
				"id":     info.ID,
				"name":   info.Name,
				"key":    key,
				"scopes": info.Scopes.String(),
			}, []string{"ID", "NAME", "SCOPES", "KEY"}, [][]string{{info.ID, info.Name, info.Scopes.String(), key}})
		},
	}
	cmd.Flags().StringVar(&scopes, "scopes", "read", "Comma-separated scopes: read,import,admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Key lifetime, 0 for no expiry")
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openKeys()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			return output(map[string]string{"id": args[0], "status": "revoked"}, nil, nil)
		},
	}
}
