package command

import (
	"fmt"
	"io"

	"github.com/mitchellh/cli"
)

// Version is set at build time.
var Version = "dev"

// Commands returns the subcommand factories sharing base.
func Commands(base *BaseCommand) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"seed": func() (cli.Command, error) {
			return &SeedCommand{BaseCommand: base}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &MigrateCommand{BaseCommand: base}, nil
		},
		"serve": func() (cli.Command, error) {
			return &ServeCommand{BaseCommand: base}, nil
		},
	}
}

// Run executes the CLI with args and returns the exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	ui := &cli.BasicUi{Writer: stdout, ErrorWriter: stderr}

	c := cli.NewCLI("secretsrefresh", Version)
	c.Args = args
	c.Commands = Commands(&BaseCommand{UI: ui, LogOutput: stderr})
	c.HelpWriter = stdout
	c.ErrorWriter = stderr

	code, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return code
}
