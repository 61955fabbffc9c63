package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/command"
)

var (
	name    = "canister-deploy"
	version = "0.1.0"
)

func main() {
	c := cli.NewCLI(name, version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"upload-assets":        command.NewUploadAssets,
		"upload-parent-assets": command.NewUploadParentAssets,
		"upload-upgrade":       command.NewUploadUpgrade,
		"upload-minimal":       command.NewUploadMinimal,
		"deploy-template":      command.NewDeployTemplate,
		"journal":              command.NewJournal,
	}

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, err)
	}

	os.Exit(status)
}
