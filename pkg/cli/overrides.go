package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/curator/pkg/overrides"
	"github.com/platinummonkey/curator/pkg/rbac"
)

// now is replaced in tests
var now = time.Now

func newOverrideCommand() *Command {
	cmd := &Command{
		Name:        "override",
		Description: "Grant or deny a permission to one user",
		Flags:       flag.NewFlagSet("override", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("for", "", "User ID receiving the override")
	permission := cmd.Flags.Int64("permission", 0, "Permission ID")
	granted := cmd.Flags.Bool("granted", true, "Grant (true) or deny (false)")
	reason := cmd.Flags.String("reason", "", "Reason recorded with the override")
	expires := cmd.Flags.String("expires", "", "Expiry as RFC 3339 time or duration from now (e.g. 72h)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		userID, err := uuid.Parse(*user)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", *user, err)
		}
		if *permission <= 0 {
			return fmt.Errorf("permission is required")
		}

		in := overrides.GrantInput{
			UserID:       userID,
			PermissionID: *permission,
			Granted:      *granted,
			Reason:       *reason,
		}
		if *expires != "" {
			at, err := parseExpiry(*expires)
			if err != nil {
				return err
			}
			in.ExpiresAt = &at
		}

		ctx := context.Background()
		var o overrides.Override
		if err := cf.client(ctx).post(ctx, "/overrides", in, &o); err != nil {
			return fmt.Errorf("failed to grant override: %w", err)
		}
		if *cf.json {
			return printJSON(o)
		}

		fmt.Fprintf(stdout, "override %d: %s %s granted=%t expires=%s\n",
			o.ID, o.UserID, o.PermissionName, o.Granted, formatExpiry(o.ExpiresAt))
		return nil
	}
	return cmd
}

func newRevokeOverrideCommand() *Command {
	cmd := &Command{
		Name:        "revoke-override",
		Description: "Delete a user override",
		Flags:       flag.NewFlagSet("revoke-override", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	id := cmd.Flags.Int64("id", 0, "Override ID")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *id <= 0 {
			return fmt.Errorf("id is required")
		}

		ctx := context.Background()
		if err := cf.client(ctx).delete(ctx, "/overrides/"+strconv.FormatInt(*id, 10)); err != nil {
			return fmt.Errorf("failed to revoke override: %w", err)
		}
		fmt.Fprintf(stdout, "override %d revoked\n", *id)
		return nil
	}
	return cmd
}

func newOverridesCommand() *Command {
	cmd := &Command{
		Name:        "overrides",
		Description: "List user overrides",
		Flags:       flag.NewFlagSet("overrides", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("for", "", "Only overrides of this user ID")
	active := cmd.Flags.Bool("active", false, "Only unexpired overrides")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		query := url.Values{}
		if *user != "" {
			if _, err := uuid.Parse(*user); err != nil {
				return fmt.Errorf("invalid user id %q: %w", *user, err)
			}
			query.Set("user_id", *user)
		}
		if *active {
			query.Set("active", "true")
		}
		path := "/overrides"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		ctx := context.Background()
		var list rbac.OverrideList
		if err := cf.client(ctx).get(ctx, path, &list); err != nil {
			return fmt.Errorf("failed to list overrides: %w", err)
		}
		if *cf.json {
			return printJSON(list)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSER\tPERMISSION\tGRANTED\tEXPIRES\tSTATUS")
		for _, o := range list.Overrides {
			status := "active"
			if o.Expired(now()) {
				status = "expired"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				o.ID, o.UserID, o.PermissionName, yesNo(o.Granted), formatExpiry(o.ExpiresAt), status)
		}
		return tw.Flush()
	}
	return cmd
}

// parseExpiry accepts an absolute RFC 3339 time or a positive duration.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: use RFC 3339 or a duration", s)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("invalid expiry %q: duration must be positive", s)
	}
	return now().Add(d).UTC(), nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
