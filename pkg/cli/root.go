package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command writing to stdout
func NewRootCommand() *Command {
	return NewRootCommandWithOutput(os.Stdout)
}

// NewRootCommandWithOutput creates the root command writing to out
func NewRootCommandWithOutput(out io.Writer) *Command {
	root := &Command{
		Name:        "permit",
		Description: "Permit - authorization engine CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("permit", flag.ContinueOnError),
		out:         out,
	}

	// Add subcommands
	for _, cmd := range []*Command{
		newRolesCommand(out),
		newCreateRoleCommand(out),
		newPermissionsCommand(out),
		newAssignCommand(out),
		newOverrideCommand(out),
		newEffectiveCommand(out),
		newCheckCommand(out),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with args, which exclude the program name
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
