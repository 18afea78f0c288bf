package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playpen/internal/auth"
	"github.com/conneroisu/playpen/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the project API",
	Long: `Sign a token with auth.secret. Projects created with the token belong to its
subject.

Examples:
  playpen token --subject alice
  playpen token --subject alice --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("subject", "", "User id the token is issued to")
	tokenCmd.Flags().String("name", "", "Display name stored in the token")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default auth.token_ttl)")
	tokenCmd.Flags().String("secret", "", "Signing secret (default auth.secret)")
	_ = tokenCmd.MarkFlagRequired("subject")

	bindFlags(tokenCmd, map[string]string{"secret": "auth.secret"})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := auth.GenerateToken([]byte(cfg.Auth.Secret), subject, name, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "Expires %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}
