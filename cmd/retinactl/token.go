package main

import (
	"fmt"

	"github.com/fedutinova/retinascan/internal/auth"
	"github.com/fedutinova/retinascan/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API access token",
		Long: `Token signs a JWT for the analysis service using JWT_SECRET and JWT_ISSUER
from the environment (or .env). The subject defaults to a fresh UUID.

Examples:
  retinactl token --role researcher
  retinactl token --subject 2f1c... --role admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: runTokenCmd,
	}
	cmd.Flags().String("subject", "", "User ID (UUID) to put in the token")
	cmd.Flags().StringSlice("role", []string{auth.RoleUser}, "Role to grant; repeatable")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to JWT_TTL)")
	return cmd
}

func runTokenCmd(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	subject, _ := flags.GetString("subject")
	roles, _ := flags.GetStringSlice("role")
	ttl, _ := flags.GetDuration("ttl")

	if subject == "" {
		subject = uuid.NewString()
	} else if _, err := uuid.Parse(subject); err != nil {
		return fmt.Errorf("subject must be a UUID: %w", err)
	}

	cfg := config.Load()
	if ttl <= 0 {
		ttl = cfg.JWTTTL
	}
	tok, err := auth.NewToken(cfg.JWTSecret, cfg.JWTIssuer, subject, roles, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
