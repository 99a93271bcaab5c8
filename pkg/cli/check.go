package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/platinummonkey/permit/pkg/rbac"
)

// ErrDenied is returned by check when any requested permission is denied so
// the process exits non-zero
var ErrDenied = errors.New("permission denied")

func newCheckCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether a user holds one or more permissions",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
		out:         out,
	}
	conn := addClientFlags(cmd.Flags)
	user := cmd.Flags.String("user", "", "User to check (defaults to the acting user)")
	permissions := cmd.Flags.String("permission", "", "Permission name, or a comma-separated list")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		var names []string
		for _, name := range strings.Split(*permissions, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return errors.New("permission is required")
		}

		client, err := conn.client()
		if err != nil {
			return err
		}
		req := rbac.CheckRequest{Permissions: names}
		if *user != "" {
			if req.UserID, err = parseID(*user, "user"); err != nil {
				return err
			}
		}

		var resp rbac.CheckResponse
		if err := client.Do("POST", "/rbac/check", req, &resp); err != nil {
			return err
		}

		sort.Strings(names)
		denied := false
		for _, name := range names {
			allowed := resp.Decisions[name]
			verdict := "allowed"
			if !allowed {
				verdict = "denied"
				denied = true
			}
			fmt.Fprintf(out, "%s: %s\n", name, verdict)
		}
		if denied {
			return ErrDenied
		}
		return nil
	}
	return cmd
}
