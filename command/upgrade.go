package command

import (
	"context"

	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/deploy"
)

// UploadUpgradeOpts ...
type UploadUpgradeOpts struct {
	GlobalOpts
	UpgradeOpts

	Canister string `long:"canister" default:"parent" description:"Name of the parent canister in the canister ids file"`
}

// UploadUpgrade uploads a release to the parent canister and registers it.
type UploadUpgrade struct {
	base
	opts UploadUpgradeOpts
}

// NewUploadUpgrade ...
func NewUploadUpgrade() (cli.Command, error) {
	return &UploadUpgrade{base: newBase()}, nil
}

// Help ...
func (cmd *UploadUpgrade) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis ...
func (cmd *UploadUpgrade) Synopsis() string {
	return "upload and register an upgrade release"
}

// Usage ...
func (cmd *UploadUpgrade) Usage() string {
	return "canister-deploy upload-upgrade"
}

// Run ...
func (cmd *UploadUpgrade) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides(), cmd.opts.UpgradeOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(ctx context.Context, session *deploy.Session) error {
		parent, err := session.Gateway(cmd.opts.Canister)
		if err != nil {
			return err
		}
		backend, id, err := session.Backend(ctx, cmd.opts.Canister)
		if err != nil {
			return err
		}

		_, err = session.Deployer(id).UploadUpgrade(ctx, parent, backend, session.Config().UpgradeParams())
		return err
	})
}

// UploadMinimalOpts ...
type UploadMinimalOpts struct {
	GlobalOpts
	UpgradeOpts

	Canister string `long:"canister" default:"parent" description:"Name of the parent canister in the canister ids file"`
	Wasm     string `long:"wasm" description:"Child wasm file or URL, defaults to <path>/<version>/child.wasm" value-name:"FILE"`
}

// UploadMinimal registers a release that only carries the child wasm.
type UploadMinimal struct {
	base
	opts UploadMinimalOpts
}

// NewUploadMinimal ...
func NewUploadMinimal() (cli.Command, error) {
	return &UploadMinimal{base: newBase()}, nil
}

// Help ...
func (cmd *UploadMinimal) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis ...
func (cmd *UploadMinimal) Synopsis() string {
	return "register a release with only the child wasm"
}

// Usage ...
func (cmd *UploadMinimal) Usage() string {
	return "canister-deploy upload-minimal"
}

// Run ...
func (cmd *UploadMinimal) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides(), cmd.opts.UpgradeOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(ctx context.Context, session *deploy.Session) error {
		parent, err := session.Gateway(cmd.opts.Canister)
		if err != nil {
			return err
		}
		backend, id, err := session.Backend(ctx, cmd.opts.Canister)
		if err != nil {
			return err
		}

		_, err = session.Deployer(id).UploadMinimal(ctx, parent, backend, session.Config().UpgradeParams(), cmd.opts.Wasm)
		return err
	})
}
