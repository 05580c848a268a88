package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/layer-3/pairgate/adapters/tokenizer"
	"github.com/layer-3/pairgate/config"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		subject string
		scope   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer operator token signed with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			} else if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("no JWT secret configured (JWT_SECRET)")
			}
			if scope != tokenizer.ScopeAdmin && scope != tokenizer.ScopeRead {
				return fmt.Errorf("unknown scope %q", scope)
			}

			tok := tokenizer.NewJWTTokenizer([]byte(cfg.Server.JWTSecret), cfg.Server.TokenTTL, nil)
			signed, err := tok.Issue(subject, scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to")
	cmd.Flags().StringVar(&scope, "scope", tokenizer.ScopeAdmin, "admin or read")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
