package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/jessevdk/go-flags"
	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/batch"
	"github.com/ic-communities/deployutils/deploy"
)

// GlobalOpts are accepted by every command. A flag overrides the environment variable of the same setting.
type GlobalOpts struct {
	Verbose     bool   `short:"v" long:"verbose" description:"Show verbose debug information"`
	Network     string `long:"network" description:"Network the canisters are deployed to" value-name:"NETWORK"`
	Identity    string `long:"identity" description:"Identity the calls are made as" value-name:"NAME"`
	Backend     string `long:"store-backend" description:"Store backend: gateway or s3" value-name:"BACKEND"`
	ErrorPolicy string `long:"error-policy" description:"fail-fast or best-effort" value-name:"POLICY"`
	Concurrency int    `long:"concurrency" description:"Number of keys uploaded at the same time"`
	ChunkSize   int    `long:"chunk-size" description:"Bytes per appended chunk"`
	Legacy      bool   `long:"legacy-chunks" description:"Use the 1000000 byte chunks of older deployment tooling"`
	Journal     string `long:"journal" description:"Directory of the resume journal" value-name:"DIR"`
}

func (o GlobalOpts) overrides() map[string]string {
	values := map[string]string{
		"network":       o.Network,
		"identity":      o.Identity,
		"store_backend": o.Backend,
		"error_policy":  o.ErrorPolicy,
		"journal_path":  o.Journal,
	}
	if o.Verbose {
		values["verbose"] = "true"
	}
	if o.Concurrency != 0 {
		values["concurrency"] = strconv.Itoa(o.Concurrency)
	}
	if o.Legacy {
		values["chunk_size"] = strconv.Itoa(batch.LegacyChunkSize)
	}
	if o.ChunkSize != 0 {
		values["chunk_size"] = strconv.Itoa(o.ChunkSize)
	}
	return values
}

// UpgradeOpts select an upgrade release.
type UpgradeOpts struct {
	Version            string `long:"version" description:"Semantic version of the release" value-name:"VERSION"`
	Track              string `long:"track" description:"Release track" value-name:"TRACK"`
	UpgradeFromVersion string `long:"upgrade-from-version" description:"Version the release upgrades from" value-name:"VERSION"`
	UpgradeFromTrack   string `long:"upgrade-from-track" description:"Track the release upgrades from" value-name:"TRACK"`
	Description        string `long:"description" description:"Release description"`
	Path               string `long:"path" description:"Directory holding one directory per version" value-name:"DIR"`
	Filter             string `long:"filter" description:"Glob the uploaded files must match" value-name:"GLOB"`
}

func (o UpgradeOpts) overrides() map[string]string {
	return map[string]string{
		"version":              o.Version,
		"track":                o.Track,
		"upgrade_from_version": o.UpgradeFromVersion,
		"upgrade_from_track":   o.UpgradeFromTrack,
		"description":          o.Description,
		"path":                 o.Path,
		"filter":               o.Filter,
	}
}

// overrideRepository serves flag values ahead of the process environment.
type overrideRepository struct {
	env.Repository
	values map[string]string
}

func newOverrideRepository(repo env.Repository, sets ...map[string]string) overrideRepository {
	values := map[string]string{}
	for _, set := range sets {
		for key, value := range set {
			if value != "" {
				values[key] = value
			}
		}
	}
	return overrideRepository{Repository: repo, values: values}
}

func (r overrideRepository) Get(key string) string {
	if value, ok := r.values[key]; ok {
		return value
	}
	return r.Repository.Get(key)
}

type base struct {
	ui     cli.Ui
	logger log.Logger
	envs   env.Repository
}

func newBase() base {
	return base{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stderr,
			ErrorWriter: os.Stderr,
		},
		logger: log.NewLogger(),
		envs:   env.NewRepository(),
	}
}

func (b base) help(synopsis, usage string, opts interface{}) string {
	parser := flags.NewNamedParser(usage, flags.PassDoubleDash)
	_, err := parser.AddGroup("default", "", opts)
	if err != nil {
		panic(err)
	}

	buf := bytes.NewBuffer(nil)
	parser.WriteHelp(buf)

	return fmt.Sprintf(`
  %s

%s
`, synopsis, buf.String())
}

// run parses the flags into opts, opens a deployment session and calls fn with it.
// overrides is called after parsing and returns the flag values that replace environment settings.
func (b base) run(args []string, opts interface{}, overrides func() []map[string]string, fn func(context.Context, *deploy.Session) error) int {
	if _, err := flags.ParseArgs(opts, args); err != nil {
		b.ui.Error(fmt.Sprintf("failed to parse flags: %v", err))
		return 1
	}

	config, err := deploy.ParseConfig(newOverrideRepository(b.envs, overrides()...))
	if err != nil {
		b.ui.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 2
	}
	b.logger.EnableDebugLog(config.Verbose)

	session, err := deploy.OpenSession(config, b.logger)
	if err != nil {
		b.ui.Error(fmt.Sprintf("failed to open session: %v", err))
		return 3
	}
	defer func() {
		if err := session.Close(); err != nil {
			b.logger.Warnf("%s", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, session); err != nil {
		b.ui.Error(err.Error())
		return 4
	}
	return 0
}
