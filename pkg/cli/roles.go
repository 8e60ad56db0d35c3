package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/platinummonkey/curator/pkg/grants"
	"github.com/platinummonkey/curator/pkg/rbac"
	"github.com/platinummonkey/curator/pkg/roles"
)

func newRolesCommand() *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "List enum and active dynamic roles",
		Flags:       flag.NewFlagSet("roles", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	locale := cmd.Flags.String("locale", "", "Locale for role names (e.g. fr, en-GB)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		path := "/roles"
		if *locale != "" {
			path += "?locale=" + url.QueryEscape(*locale)
		}

		ctx := context.Background()
		var list []roles.Role
		if err := cf.client(ctx).get(ctx, path, &list); err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}
		if *cf.json {
			return printJSON(list)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tNAME\tKIND\tCATEGORY\tPERMISSIONS")
		for _, r := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.Code, r.Name, r.Kind, r.Category, len(r.Permissions))
		}
		return tw.Flush()
	}
	return cmd
}

func newGrantsCommand() *Command {
	cmd := &Command{
		Name:        "grants",
		Description: "Show every permission and whether a role holds it",
		Flags:       flag.NewFlagSet("grants", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	role := cmd.Flags.String("role", "", "Role code")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *role == "" {
			return fmt.Errorf("role is required")
		}

		ctx := context.Background()
		var list []grants.Grant
		if err := cf.client(ctx).get(ctx, "/roles/"+url.PathEscape(*role)+"/grants", &list); err != nil {
			return fmt.Errorf("failed to get grants: %w", err)
		}
		if *cf.json {
			return printJSON(list)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPERMISSION\tCATEGORY\tGRANTED")
		for _, g := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", g.PermissionID, g.Name, g.Category, yesNo(g.Granted))
		}
		return tw.Flush()
	}
	return cmd
}

func newGrantCommand() *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Grant or revoke one permission for a role",
		Flags:       flag.NewFlagSet("grant", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	role := cmd.Flags.String("role", "", "Role code")
	permission := cmd.Flags.Int64("permission", 0, "Permission ID")
	granted := cmd.Flags.Bool("granted", true, "Grant (true) or revoke (false)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *role == "" || *permission <= 0 {
			return fmt.Errorf("role and permission are required")
		}

		ctx := context.Background()
		path := "/roles/" + url.PathEscape(*role) + "/grants/" + strconv.FormatInt(*permission, 10)
		var grant grants.Grant
		if err := cf.client(ctx).put(ctx, path, rbac.SetGrantRequest{Granted: *granted}, &grant); err != nil {
			return fmt.Errorf("failed to set grant: %w", err)
		}
		if *cf.json {
			return printJSON(grant)
		}

		fmt.Fprintf(stdout, "%s: %s granted=%t\n", *role, grant.Name, grant.Granted)
		return nil
	}
	return cmd
}

func newCategoryGrantCommand() *Command {
	cmd := &Command{
		Name:        "category-grant",
		Description: "Grant or revoke every permission of a category for a role",
		Flags:       flag.NewFlagSet("category-grant", flag.ContinueOnError),
	}
	cf := addClientFlags(cmd.Flags)
	role := cmd.Flags.String("role", "", "Role code")
	category := cmd.Flags.String("category", "", "Permission category")
	granted := cmd.Flags.Bool("granted", true, "Grant (true) or revoke (false)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *role == "" || *category == "" {
			return fmt.Errorf("role and category are required")
		}

		ctx := context.Background()
		path := "/roles/" + url.PathEscape(*role) + "/categories/" + url.PathEscape(*category)
		var result rbac.CategoryGrantResult
		if err := cf.client(ctx).put(ctx, path, rbac.SetGrantRequest{Granted: *granted}, &result); err != nil {
			return fmt.Errorf("failed to set category grants: %w", err)
		}
		if *cf.json {
			return printJSON(result)
		}

		fmt.Fprintf(stdout, "%s: %d %s permissions granted=%t\n", result.RoleCode, result.Affected, result.Category, result.Granted)
		return nil
	}
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
