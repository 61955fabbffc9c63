package deploy

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/ic-communities/deployutils/batch"
	"github.com/ic-communities/deployutils/journal"
	"github.com/ic-communities/deployutils/store/httpstore"
	"github.com/ic-communities/deployutils/store/s3store"
)

// Backend is a store that serves every call surface the deployments use.
type Backend interface {
	batch.Store
	batch.MetadataStore
	batch.BatchExecutor
}

// Session wires the configured backends, journal and uploader of one run.
type Session struct {
	config  Config
	journal *journal.Journal
	runID   string
	logger  log.Logger
	closers []io.Closer
}

// OpenSession opens the journal (when configured) and logs the run id.
func OpenSession(config Config, logger log.Logger) (*Session, error) {
	s := &Session{config: config, runID: uuid.NewString(), logger: logger}

	if config.JournalPath != "" {
		j, err := journal.Open(config.JournalPath, logger)
		if err != nil {
			return nil, err
		}
		s.journal = j
		s.runID = j.RunID()
		s.closers = append(s.closers, j)
	}

	logger.Infof("Run %s on network %s", s.runID, config.Network)
	return s, nil
}

// Config ...
func (s *Session) Config() Config {
	return s.config
}

// Journal returns the opened journal, nil when none is configured.
func (s *Session) Journal() *journal.Journal {
	return s.journal
}

// CanisterID resolves a canister name through the canister ids file.
func (s *Session) CanisterID(name string) (string, error) {
	return ResolveCanisterID(s.config.CanisterIDsFile, name, s.config.Network)
}

// Gateway returns a call client of the named canister.
func (s *Session) Gateway(name string) (*httpstore.Client, error) {
	id, err := s.CanisterID(name)
	if err != nil {
		return nil, err
	}
	return httpstore.New(httpstore.Params{
		BaseURL:    s.config.GatewayURL,
		CanisterID: id,
		Token:      string(s.config.GatewayToken),
		Identity:   s.config.Identity,
	}, s.logger)
}

// Backend returns the configured store of the named canister.
func (s *Session) Backend(ctx context.Context, name string) (Backend, string, error) {
	id, err := s.CanisterID(name)
	if err != nil {
		return nil, "", err
	}

	if s.config.Backend != BackendS3 {
		client, err := s.Gateway(name)
		return client, id, err
	}

	store, err := s3store.New(ctx, s3store.Params{
		Bucket:          s.config.S3Bucket,
		Region:          s.config.S3Region,
		Endpoint:        s.config.S3Endpoint,
		Prefix:          path.Join(s.config.S3Prefix, id),
		AccessKeyID:     string(s.config.AWSAccessKeyID),
		SecretAccessKey: string(s.config.AWSSecretAccessKey),
	}, s.logger)
	if err != nil {
		return nil, "", err
	}
	s.closers = append(s.closers, store)
	return store, id, nil
}

// Deployer returns a Deployer whose uploads are journaled under canisterID.
func (s *Session) Deployer(canisterID string) *Deployer {
	config := s.config.BatchConfig()
	if s.journal != nil {
		config.Journal = s.journal.Scope(canisterID)
	}
	if s.config.Verbose {
		config.Progress = func(event batch.ProgressEvent) {
			s.logger.Debugf("%s %s %d/%d (%s)", event.Key, event.Stage, event.ChunkIndex+1, event.Chunks,
				units.HumanSizeWithPrecision(float64(event.Bytes), 3))
		}
	}
	return NewDeployer(batch.New(config, s.logger), s.config.UploadAllOptions(), s.logger)
}

// Close releases the backends and the journal, last opened first.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close session: %v", errs)
	}
	return nil
}
