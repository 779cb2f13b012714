package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/auth"
	"github.com/platinummonkey/loanadmin/pkg/users"
)

func newIssueTokenCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "issue-token",
		Description: "Issue an API token for a user",
		Flags:       newFlagSet("issue-token", env.out()),
	}
	email := cmd.Flags.String("email", "", "User email")
	tenant := cmd.Flags.Int64("tenant", 0, "Tenant id of the user (0 for platform users)")
	ttl := cmd.Flags.Duration("ttl", 30*24*time.Hour, "Token lifetime (0 never expires)")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" {
			return fmt.Errorf("email is required")
		}
		if *ttl < 0 {
			return fmt.Errorf("ttl cannot be negative")
		}

		var tenantID *int64
		if *tenant != 0 {
			tenantID = tenant
		}

		user, err := users.NewStore(env.DB).FindByEmail(ctx, *email, tenantID)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return fmt.Errorf("user %s is inactive", user.Email)
		}

		token, record, err := auth.NewTokenStore(env.DB).Issue(ctx, user.ID, *ttl)
		if err != nil {
			return err
		}

		details := map[string]interface{}{
			"user_id":      user.ID,
			"token_prefix": record.TokenPrefix,
		}
		if record.ExpiresAt != nil {
			details["expires_at"] = record.ExpiresAt.Format(time.RFC3339)
		}
		if err := env.audit().LogDataMutation(ctx, audit.EventTypeAdminTokenIssue, audit.ResourceTypeToken,
			strconv.FormatInt(record.ID, 10), "api token issued", details); err != nil {
			env.Logger.WithError(err).Warn("failed to record token audit event")
		}

		fmt.Fprintln(env.out(), token)
		return nil
	}
	return cmd
}
