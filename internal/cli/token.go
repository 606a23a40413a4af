package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tradeflow/internal/session"
)

func newTokenCmd(app *App) *cobra.Command {
	var workspace, subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a workspace",
		Long:  "Issue an HS256 bearer token signed with the configured jwt_secret. Intended for local testing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			auth := app.Config.Auth
			if auth.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not set: edit credentials.toml or set TRADEFLOW_AUTH_JWT_SECRET")
			}
			token, err := session.NewJWTResolver(auth.JWTSecret, auth.JWTIssuer, auth.WorkspaceClaim).Issue(workspace, subject, ttl)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"token": token, "workspace_id": workspace})
			}
			output.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace id (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}
