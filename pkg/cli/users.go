package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/permit/pkg/rbac"
)

func newAssignCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "assign",
		Description: "Assign a role to a user, or clear it with -role-id none",
		Flags:       flag.NewFlagSet("assign", flag.ContinueOnError),
		out:         out,
	}
	conn := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Target user ID")
	role := cmd.Flags.String("role-id", "", "Role ID, or none to clear")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		userID, err := parseID(*user, "user")
		if err != nil {
			return err
		}

		var roleID *int64
		switch strings.ToLower(*role) {
		case "":
			return errors.New("role-id is required (use none to clear)")
		case "none", "null":
		default:
			id, err := parseID(*role, "role-id")
			if err != nil {
				return err
			}
			roleID = &id
		}

		client, err := conn.client()
		if err != nil {
			return err
		}

		var updated rbac.User
		path := fmt.Sprintf("/rbac/users/%d/role", userID)
		if err := client.Do("PUT", path, map[string]*int64{"role_id": roleID}, &updated); err != nil {
			return err
		}

		if updated.RoleName == "" {
			fmt.Fprintf(out, "User %d now has no role\n", updated.ID)
		} else {
			fmt.Fprintf(out, "User %d now has role %s\n", updated.ID, updated.RoleName)
		}
		return nil
	}
	return cmd
}

func newOverrideCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "override",
		Description: "Grant, deny or clear a per-user permission override",
		Flags:       flag.NewFlagSet("override", flag.ContinueOnError),
		out:         out,
	}
	conn := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Target user ID")
	permission := cmd.Flags.String("permission", "", "Permission name")
	value := cmd.Flags.String("value", "", "grant, deny or clear")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		userID, err := parseID(*user, "user")
		if err != nil {
			return err
		}
		if *permission == "" {
			return errors.New("permission is required")
		}
		granted, err := parseOverrideValue(*value)
		if err != nil {
			return err
		}

		client, err := conn.client()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/rbac/users/%d/permissions/%s", userID, url.PathEscape(*permission))
		if err := client.Do("PUT", path, map[string]rbac.OverrideValue{"granted": granted}, nil); err != nil {
			return err
		}

		switch granted.Override() {
		case rbac.OverrideGrant:
			fmt.Fprintf(out, "Granted %s to user %d\n", *permission, userID)
		case rbac.OverrideDeny:
			fmt.Fprintf(out, "Denied %s to user %d\n", *permission, userID)
		default:
			fmt.Fprintf(out, "Cleared override of %s for user %d\n", *permission, userID)
		}
		return nil
	}
	return cmd
}

func parseOverrideValue(raw string) (rbac.OverrideValue, error) {
	switch strings.ToLower(raw) {
	case "grant", "true", "allow":
		return rbac.Grant(), nil
	case "deny", "false":
		return rbac.Deny(), nil
	case "clear", "null", "none":
		return rbac.Clear(), nil
	default:
		return rbac.OverrideValue{}, fmt.Errorf("value must be grant, deny or clear, got %q", raw)
	}
}

func newEffectiveCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "effective",
		Description: "Show every permission a user effectively holds",
		Flags:       flag.NewFlagSet("effective", flag.ContinueOnError),
		out:         out,
	}
	conn := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "Target user ID (defaults to the acting user)")
	onlyAllowed := cmd.Flags.Bool("allowed", false, "Only list allowed permissions")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		client, err := conn.client()
		if err != nil {
			return err
		}
		target := *user
		if target == "" {
			target = client.userID
		}
		userID, err := parseID(target, "user")
		if err != nil {
			return err
		}

		var effective []rbac.EffectivePermission
		if err := client.Do("GET", fmt.Sprintf("/rbac/users/%d/effective", userID), nil, &effective); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PERMISSION\tALLOWED\tSOURCE")
		for _, e := range effective {
			if *onlyAllowed && !e.Allowed {
				continue
			}
			fmt.Fprintf(tw, "%s\t%t\t%s\n", e.Permission, e.Allowed, e.Source)
		}
		return tw.Flush()
	}
	return cmd
}

func parseIDList(raw, name string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := parseID(strings.TrimSpace(part), name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
