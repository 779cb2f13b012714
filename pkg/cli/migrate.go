package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/loanadmin/pkg/rbac"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Flags:       newFlagSet("migrate", env.out()),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if err := rbac.RunMigrations(ctx, env.DB, env.Logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Fprintln(env.out(), "migrations applied")
		return nil
	}
	return cmd
}
