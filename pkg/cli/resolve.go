package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/rbac"
)

func newResolveCommand() *Command {
	cmd := &Command{
		Name:        "resolve",
		Description: "Show a user's effective permissions",
		Flags:       flag.NewFlagSet("resolve", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("for", "", "User ID to resolve; empty resolves the caller")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		path := "/me/permissions"
		if *user != "" {
			if _, err := uuid.Parse(*user); err != nil {
				return fmt.Errorf("invalid user id %q: %w", *user, err)
			}
			path = "/users/" + *user + "/permissions"
		}

		ctx := context.Background()
		var eff rbac.EffectivePermissions
		if err := cf.client(ctx).get(ctx, path, &eff); err != nil {
			return fmt.Errorf("failed to resolve permissions: %w", err)
		}
		if *cf.json {
			return printJSON(eff)
		}

		fmt.Fprintf(stdout, "%s (%d permissions)\n", eff.UserID, eff.Permissions.Len())
		for _, name := range eff.Permissions.Names() {
			fmt.Fprintf(stdout, "  %s\n", name)
		}
		return nil
	}
	return cmd
}
