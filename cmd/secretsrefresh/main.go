// Command secretsrefresh seeds, migrates and serves the demo application
// whose database credentials and signing key live in AWS Secrets Manager.
package main

import (
	"os"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/command"
)

func main() {
	os.Exit(command.Run(os.Args[1:], os.Stdout, os.Stderr))
}
