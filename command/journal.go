package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/cli"

	"github.com/ic-communities/deployutils/deploy"
)

// JournalOpts ...
type JournalOpts struct {
	GlobalOpts

	Canister string   `long:"canister" default:"parent" description:"Name of the canister in the canister ids file"`
	Forget   []string `long:"forget" description:"Remove a key from the journal, can be repeated" value-name:"KEY"`
	Reset    bool     `long:"reset" description:"Remove every key of the canister from the journal"`
}

// Journal lists or edits the resume journal of a canister.
type Journal struct {
	base
	opts JournalOpts
}

// NewJournal ...
func NewJournal() (cli.Command, error) {
	return &Journal{base: newBase()}, nil
}

// Help ...
func (cmd *Journal) Help() string {
	return cmd.help(cmd.Synopsis(), cmd.Usage(), &cmd.opts)
}

// Synopsis ...
func (cmd *Journal) Synopsis() string {
	return "list or edit the keys committed so far"
}

// Usage ...
func (cmd *Journal) Usage() string {
	return "canister-deploy journal --journal DIR"
}

// Run ...
func (cmd *Journal) Run(args []string) int {
	overrides := func() []map[string]string {
		return []map[string]string{cmd.opts.GlobalOpts.overrides()}
	}

	return cmd.run(args, &cmd.opts, overrides, func(_ context.Context, session *deploy.Session) error {
		if session.Journal() == nil {
			return errors.New("no journal configured, set journal_path or --journal")
		}
		id, err := session.CanisterID(cmd.opts.Canister)
		if err != nil {
			return err
		}
		scope := session.Journal().Scope(id)

		if cmd.opts.Reset {
			if err := scope.Reset(); err != nil {
				return err
			}
			cmd.ui.Info(fmt.Sprintf("Journal of %s reset", id))
			return nil
		}
		for _, key := range cmd.opts.Forget {
			if err := scope.Forget(key); err != nil {
				return err
			}
			cmd.ui.Info(fmt.Sprintf("Forgot %s", key))
		}
		if len(cmd.opts.Forget) > 0 {
			return nil
		}

		entries, err := scope.Entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			cmd.ui.Output(fmt.Sprintf("%s\t%s\t%s\t%s", e.Key, units.HumanSizeWithPrecision(float64(e.Size), 3),
				e.SHA256[:min(12, len(e.SHA256))], e.CommittedAt.Format(time.RFC3339)))
		}
		return nil
	})
}
