package cli

import (
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newMigrateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}

			before, err := s.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Migrate(cmd.Context()); err != nil {
				output.Error("✗ Migration failed: %v", err)
				return err
			}

			applied := 0
			for _, st := range before {
				if !st.Applied {
					applied++
				}
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"applied": applied})
			}
			if applied == 0 {
				output.Info("Schema is up to date")
			} else {
				output.Success("✓ Applied %d migration(s)", applied)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			states, err := s.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(states)
			}

			table := NewTable(output, "VERSION", "NAME", "STATE", "APPLIED AT")
			for _, st := range states {
				state := output.paint(color.FgYellow, "pending")
				if st.Applied {
					state = output.paint(color.FgGreen, "applied")
				}
				table.AddRow(strconv.Itoa(st.Version), st.Name, state, FormatTime(st.AppliedAt))
			}
			table.Render()
			return nil
		},
	})
	return cmd
}
