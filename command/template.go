package command

import (
	"context"

	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/deploy"
)

// DeployTemplateOpts ...
type DeployTemplateOpts struct {
	GlobalOpts

	Canister string `long:"canister" required:"true" description:"Name of the template canister in the canister ids file"`
	Wasm     string `long:"wasm" required:"true" description:"Template wasm file or URL" value-name:"FILE"`
	Build    string `long:"build" default:"build" description:"Build directory or .tar.zst bundle" value-name:"DIR"`
	Filter   string `long:"filter" description:"Glob the uploaded files must match" value-name:"GLOB"`
}

// DeployTemplate uploads a template wasm and its frontend through the chunked batch protocol.
type DeployTemplate struct {
	base
	opts DeployTemplateOpts
}

// NewDeployTemplate ...
func NewDeployTemplate() (cli.Command, error) {
	return &DeployTemplate{base: newBase()}, nil
}

// Help ...
func (cmd *DeployTemplate) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis ...
func (cmd *DeployTemplate) Synopsis() string {
	return "upload a template wasm and its frontend"
}

// Usage ...
func (cmd *DeployTemplate) Usage() string {
	return "canister-deploy deploy-template"
}

// Run ...
func (cmd *DeployTemplate) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(ctx context.Context, session *deploy.Session) error {
		backend, id, err := session.Backend(ctx, cmd.opts.Canister)
		if err != nil {
			return err
		}
		return session.Deployer(id).DeployTemplate(ctx, backend, cmd.opts.Wasm, cmd.opts.Build, cmd.opts.Filter)
	})
}
