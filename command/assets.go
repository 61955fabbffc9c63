package command

import (
	"context"
	"path/filepath"

	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/deploy"
)

// UploadAssetsOpts ...
type UploadAssetsOpts struct {
	GlobalOpts
	UpgradeOpts

	Canister string `long:"canister" default:"child" description:"Name of the canister in the canister ids file"`
	Dir      string `long:"dir" description:"Directory to upload, defaults to <path>/<version>" value-name:"DIR"`
	Prefix   string `long:"prefix" default:"/" description:"Key prefix of the uploaded files"`
}

// UploadAssets uploads a build directory with grouped execute_batch calls.
type UploadAssets struct {
	base
	opts UploadAssetsOpts
}

// NewUploadAssets ...
func NewUploadAssets() (cli.Command, error) {
	return &UploadAssets{base: newBase()}, nil
}

// Help returns long-form help text that includes the command-line
// usage, a brief few sentences explaining the function of the command,
// and the complete list of flags the command accepts.
func (cmd *UploadAssets) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis returns a one-line, short synopsis of the command.
func (cmd *UploadAssets) Synopsis() string {
	return "upload a build directory to an asset canister"
}

// Usage returns a usage description
func (cmd *UploadAssets) Usage() string {
	return "canister-deploy upload-assets"
}

// Run runs the actual command with the given CLI instance and
// command-line arguments. It returns the exit status when it is
// finished.
func (cmd *UploadAssets) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides(), cmd.opts.UpgradeOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(ctx context.Context, session *deploy.Session) error {
		config := session.Config()
		dir := cmd.opts.Dir
		if dir == "" {
			dir = filepath.Join(config.Path, config.Version)
		}

		backend, id, err := session.Backend(ctx, cmd.opts.Canister)
		if err != nil {
			return err
		}
		_, err = session.Deployer(id).DeployAssets(ctx, backend, dir, cmd.opts.Prefix, config.Filter)
		return err
	})
}

// UploadParentAssetsOpts ...
type UploadParentAssetsOpts struct {
	GlobalOpts

	Canister string `long:"canister" default:"parent" description:"Name of the canister in the canister ids file"`
	Build    string `long:"build" default:"build" description:"Build directory" value-name:"DIR"`
}

// UploadParentAssets stores the child wasm and both frontends on the parent canister.
type UploadParentAssets struct {
	base
	opts UploadParentAssetsOpts
}

// NewUploadParentAssets ...
func NewUploadParentAssets() (cli.Command, error) {
	return &UploadParentAssets{base: newBase()}, nil
}

// Help ...
func (cmd *UploadParentAssets) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis ...
func (cmd *UploadParentAssets) Synopsis() string {
	return "store the child wasm and frontends on the parent"
}

// Usage ...
func (cmd *UploadParentAssets) Usage() string {
	return "canister-deploy upload-parent-assets"
}

// Run ...
func (cmd *UploadParentAssets) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(ctx context.Context, session *deploy.Session) error {
		backend, id, err := session.Backend(ctx, cmd.opts.Canister)
		if err != nil {
			return err
		}
		return session.Deployer(id).DeployParentAssets(ctx, backend, deploy.DefaultParentLayout(cmd.opts.Build))
	})
}
