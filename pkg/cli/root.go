package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	Out         io.Writer
}

// Env holds the connections shared by the admin commands
type Env struct {
	DB     *sql.DB
	Redis  *postgres.RedisClient // optional, used to drop cached capabilities
	Cache  config.CacheConfig
	Audit  audit.Logger
	Logger *observability.Logger
	Out    io.Writer
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) audit() audit.Logger {
	if e.Audit == nil {
		return audit.NoOpLogger{}
	}
	return e.Audit
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "loanadmin-seed",
		Description: "Loan admin catalog and token administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("loanadmin-seed", flag.ContinueOnError),
		Out:         env.out(),
	}

	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["apply"] = newApplyCommand(env)
	root.Subcommands["issue-token"] = newIssueTokenCommand(env)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if err := subcmd.Run(ctx, args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
