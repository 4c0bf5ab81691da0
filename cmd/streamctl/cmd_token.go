package main

import (
	"fmt"
	"os"
	"time"

	"resume-optimizer/internal/apiserver/auth"

	"github.com/spf13/cobra"
)

// newTokenCmd 创建 "streamctl token" 子命令，用于本地调试签发令牌
func newTokenCmd() *cobra.Command {
	var (
		issuer string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <client-id>",
		Short: "Sign a bearer token for a client id using JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken(auth.Config{
				JWTSecret: os.Getenv("JWT_SECRET"),
				Issuer:    issuer,
				TokenTTL:  ttl,
			}, args[0])
			if err != nil {
				return fmt.Errorf("token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&issuer, "issuer", "resume-optimizer", "token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
