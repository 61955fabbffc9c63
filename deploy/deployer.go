// Package deploy uploads canister builds: upgrade assets to the parent canister,
// frontend assets to parent and child canisters, and template deployments.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"

	"github.com/ic-communities/deployutils/assets"
	"github.com/ic-communities/deployutils/batch"
	"github.com/ic-communities/deployutils/store/httpstore"
)

// ParentAPI is the upgrade registry of the parent canister.
type ParentAPI interface {
	Upgrades(ctx context.Context) ([]httpstore.Upgrade, error)
	CreateUpgrade(ctx context.Context, request httpstore.UpgradeRequest) error
}

// UpgradeParams describes an upgrade release.
type UpgradeParams struct {
	Version            string
	UpgradeFromVersion string
	UpgradeFromTrack   string
	Track              string
	Description        string
	// Path contains one directory per version with the files of the release.
	Path string
	// Filter is a glob the release files must match. Empty selects every file.
	Filter string
}

// UpgradeResult is the outcome of an upgrade upload.
type UpgradeResult struct {
	// Created is false when the parent canister already had the version on the track.
	Created bool
	Assets  []string
}

// Deployer runs deployments through a batch.Uploader.
type Deployer struct {
	uploader     *batch.Uploader
	options      batch.UploadAllOptions
	ceiling      int
	httpClient   *http.Client
	pathProvider pathutil.PathProvider
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

// NewDeployer ...
func NewDeployer(uploader *batch.Uploader, options batch.UploadAllOptions, logger log.Logger) *Deployer {
	return &Deployer{
		uploader:     uploader,
		options:      options,
		ceiling:      batch.DefaultMessageCeiling,
		httpClient:   retryhttp.NewClient(logger).StandardClient(),
		pathProvider: pathutil.NewPathProvider(),
		pathChecker:  pathutil.NewPathChecker(),
		logger:       logger,
	}
}

// WithMessageCeiling overrides the execute_batch size limit.
func (d *Deployer) WithMessageCeiling(ceiling int) *Deployer {
	d.ceiling = ceiling
	return d
}

// DeployAssets uploads every file below dir, keyed under prefix, with grouped execute_batch calls.
func (d *Deployer) DeployAssets(ctx context.Context, executor batch.BatchExecutor, dir, prefix, filter string) ([]string, error) {
	items, err := d.load(dir, prefix, filter)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}

	groups := batch.GroupAssets(items, d.ceiling)
	d.logger.Infof("Uploading %d asset(s) in %d group(s)", len(items), len(groups))
	if err := d.uploader.ExecuteGroups(ctx, executor, groups); err != nil {
		return nil, err
	}
	d.logger.Donef("Uploaded %d asset(s): %s", len(items), d.uploader.Stats().Summary())
	return keys, nil
}

// ParentLayout locates the build outputs a parent canister serves.
type ParentLayout struct {
	ChildWasm string
	// Domains is the ic-domains file. Optional.
	Domains   string
	ParentDir string
	ChildDir  string
}

// DefaultParentLayout returns the layout of a standard build directory.
func DefaultParentLayout(buildDir string) ParentLayout {
	return ParentLayout{
		ChildWasm: filepath.Join(buildDir, "canister", "child.wasm"),
		Domains:   filepath.Join(buildDir, "domains", "index.txt"),
		ParentDir: filepath.Join(buildDir, "parent"),
		ChildDir:  filepath.Join(buildDir, "child"),
	}
}

// DeployParentAssets stores the child wasm, the domains file, the parent frontend and the
// child frontend (under /child) on the parent canister, one metadata store call per file.
func (d *Deployer) DeployParentAssets(ctx context.Context, store batch.MetadataStore, layout ParentLayout) error {
	var items []assets.Asset

	wasm, err := assets.ReadFile(layout.ChildWasm, "/child/child.wasm")
	if err != nil {
		return err
	}
	items = append(items, wasm)

	if layout.Domains != "" {
		exists, err := d.pathChecker.IsPathExists(layout.Domains)
		if err != nil {
			return err
		}
		if exists {
			domains, err := assets.ReadFile(layout.Domains, "/.well-known/ic-domains")
			if err != nil {
				return err
			}
			items = append(items, domains)
		} else {
			d.logger.Warnf("Domains file %s not found, skipping", layout.Domains)
		}
	}

	parent, err := d.load(layout.ParentDir, "/", "")
	if err != nil {
		return err
	}
	child, err := d.load(layout.ChildDir, "/child", "")
	if err != nil {
		return err
	}
	items = append(items, parent...)
	items = append(items, child...)

	var failed batch.UploadErrors
	for _, item := range items {
		if _, err := d.uploader.UploadWithMetadata(ctx, store, item); err != nil {
			if d.options.Policy == batch.FailFast {
				return err
			}
			d.logger.Errorf("Failed to store %s: %s", item.Key, err)
			failed = append(failed, err)
			continue
		}
		d.logger.Printf("%s", item.Key)
	}
	if len(failed) > 0 {
		return failed
	}
	d.logger.Donef("Stored %d parent asset(s): %s", len(items), d.uploader.Stats().Summary())
	return nil
}

// UploadUpgrade uploads the files of a release under /upgrades/<track>/<version>/ and
// registers the upgrade on the parent canister. Nothing is uploaded when the version already
// exists on the track.
func (d *Deployer) UploadUpgrade(ctx context.Context, parent ParentAPI, executor batch.BatchExecutor, params UpgradeParams) (UpgradeResult, error) {
	if err := validateUpgrade(params); err != nil {
		return UpgradeResult{}, err
	}

	exists, err := d.upgradeExists(ctx, parent, params.Version, params.Track)
	if err != nil {
		return UpgradeResult{}, err
	}
	if exists {
		d.logger.Warnf("Version %s already exists on track %s", params.Version, params.Track)
		return UpgradeResult{}, nil
	}

	dir := filepath.Join(params.Path, params.Version)
	keys, err := d.DeployAssets(ctx, executor, dir, assets.UpgradePrefix(params.Track, params.Version), params.Filter)
	if err != nil {
		return UpgradeResult{}, err
	}

	if err := parent.CreateUpgrade(ctx, upgradeRequest(params, keys)); err != nil {
		return UpgradeResult{Assets: keys}, fmt.Errorf("create upgrade %s: %w", params.Version, err)
	}
	d.logger.Donef("Created upgrade %s on track %s with %d asset(s)", params.Version, params.Track, len(keys))
	return UpgradeResult{Created: true, Assets: keys}, nil
}

// UploadMinimal stores only the child wasm of a release and registers the upgrade.
// A version the parent canister already has is reported, not returned as an error.
func (d *Deployer) UploadMinimal(ctx context.Context, parent ParentAPI, store batch.MetadataStore, params UpgradeParams, wasmPath string) (UpgradeResult, error) {
	if err := validateUpgrade(params); err != nil {
		return UpgradeResult{}, err
	}
	if wasmPath == "" {
		wasmPath = filepath.Join(params.Path, params.Version, "child.wasm")
	}

	wasmPath, cleanup, err := d.resolve(ctx, wasmPath)
	if err != nil {
		return UpgradeResult{}, err
	}
	defer cleanup()

	key := assets.UpgradeKey(params.Track, params.Version, "child.wasm")
	wasm, err := assets.ReadFile(wasmPath, key)
	if err != nil {
		return UpgradeResult{}, err
	}
	if _, err := d.uploader.UploadWithMetadata(ctx, store, wasm); err != nil {
		return UpgradeResult{}, err
	}

	keys := []string{key}
	params.UpgradeFromVersion, params.UpgradeFromTrack = "", ""
	err = parent.CreateUpgrade(ctx, upgradeRequest(params, keys))
	if errors.Is(err, httpstore.ErrRejected) {
		d.logger.Warnf("This version already exists: %s", err)
		return UpgradeResult{Assets: keys}, nil
	}
	if err != nil {
		return UpgradeResult{Assets: keys}, fmt.Errorf("create upgrade %s: %w", params.Version, err)
	}
	d.logger.Donef("Created upgrade %s on track %s", params.Version, params.Track)
	return UpgradeResult{Created: true, Assets: keys}, nil
}

// DeployTemplate uploads a canister template through the chunked batch protocol: the wasm
// under "wasm", every build file under its relative path, then the JSON listing of the build
// files under "frontend.assets". buildDir may also be a .tar.zst bundle.
func (d *Deployer) DeployTemplate(ctx context.Context, store batch.Store, wasmPath, buildDir, filter string) error {
	start := time.Now()

	wasmPath, cleanup, err := d.resolve(ctx, wasmPath)
	if err != nil {
		return err
	}
	defer cleanup()

	var items []assets.Asset
	if strings.HasSuffix(buildDir, ".tar.zst") {
		items, err = assets.LoadBundle(buildDir, "")
	} else {
		items, err = d.load(buildDir, "", filter)
	}
	if err != nil {
		return err
	}

	var failed batch.UploadErrors
	fail := func(err error) error {
		if d.options.Policy == batch.FailFast {
			return err
		}
		d.logger.Errorf("%s", err)
		failed = append(failed, err)
		return nil
	}

	d.logger.Infof("Uploading wasm...")
	result, err := d.uploader.UploadFile(ctx, store, "wasm", wasmPath)
	if err != nil {
		if err := fail(err); err != nil {
			return err
		}
	} else {
		d.logger.Printf("wasm: %s in %d chunk(s)", units.HumanSizeWithPrecision(float64(result.Size), 3), result.Chunks)
	}

	d.logger.Infof("Uploading %d build file(s)...", len(items))
	if _, err := d.uploader.UploadAll(ctx, store, items, d.options); err != nil {
		var uploadErrs batch.UploadErrors
		if errors.As(err, &uploadErrs) {
			failed = append(failed, uploadErrs...)
		} else if err := fail(err); err != nil {
			return err
		}
	}

	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, item.Key)
	}
	listing, err := assets.Listing(paths)
	if err != nil {
		return err
	}
	if _, err := d.uploader.Upload(ctx, store, listing.Key, listing.Content); err != nil {
		if err := fail(err); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		return failed
	}
	d.logger.Donef("Template deployed in %s: %s", time.Since(start).Round(time.Millisecond), d.uploader.Stats().Summary())
	return nil
}

func (d *Deployer) load(dir, prefix, filter string) ([]assets.Asset, error) {
	collector, err := assets.NewCollector(d.logger, filter)
	if err != nil {
		return nil, &batch.ConfigurationError{Field: "filter", Reason: err.Error()}
	}
	items, err := collector.Load(dir, prefix)
	if err != nil {
		return nil, err
	}

	var total int
	for _, item := range items {
		total += item.Size()
	}
	d.logger.Debugf("Collected %d file(s) from %s (%s)", len(items), dir, units.HumanSizeWithPrecision(float64(total), 3))
	return items, nil
}

// resolve downloads a remote source into a temporary directory.
func (d *Deployer) resolve(ctx context.Context, source string) (string, func(), error) {
	if !assets.IsRemote(source) {
		return source, func() {}, nil
	}

	dir, err := d.pathProvider.CreateTempDir("canister-deploy")
	if err != nil {
		return "", nil, fmt.Errorf("create download dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warnf("Failed to remove %s: %s", dir, err)
		}
	}

	local, err := assets.Resolve(ctx, d.httpClient, source, dir, d.logger)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return local, cleanup, nil
}

func (d *Deployer) upgradeExists(ctx context.Context, parent ParentAPI, version, track string) (bool, error) {
	upgrades, err := parent.Upgrades(ctx)
	if err != nil {
		return false, fmt.Errorf("list upgrades: %w", err)
	}

	want, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	for _, u := range upgrades {
		if u.Track != track {
			continue
		}
		if u.Version == version {
			return true, nil
		}
		if have, err := semver.NewVersion(u.Version); err == nil && have.Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

func validateUpgrade(params UpgradeParams) error {
	version, err := semver.NewVersion(params.Version)
	if err != nil {
		return &batch.ConfigurationError{Field: "version", Reason: fmt.Sprintf("%q is not a semantic version: %s", params.Version, err)}
	}
	if params.Track == "" {
		return &batch.ConfigurationError{Field: "track", Reason: "must not be empty"}
	}
	if (params.UpgradeFromVersion == "") != (params.UpgradeFromTrack == "") {
		return &batch.ConfigurationError{Field: "upgrade_from_version", Reason: "and upgrade_from_track must be set together"}
	}
	if params.UpgradeFromVersion == "" {
		return nil
	}

	from, err := semver.NewVersion(params.UpgradeFromVersion)
	if err != nil {
		return &batch.ConfigurationError{Field: "upgrade_from_version", Reason: fmt.Sprintf("%q is not a semantic version: %s", params.UpgradeFromVersion, err)}
	}
	if params.UpgradeFromTrack == params.Track && !from.LessThan(version) {
		return &batch.ConfigurationError{Field: "upgrade_from_version", Reason: fmt.Sprintf("%s must be lower than %s on the same track", from, version)}
	}
	return nil
}

func upgradeRequest(params UpgradeParams, keys []string) httpstore.UpgradeRequest {
	request := httpstore.UpgradeRequest{
		Version:     params.Version,
		Assets:      keys,
		Track:       params.Track,
		Description: params.Description,
	}
	if params.UpgradeFromVersion != "" && params.UpgradeFromTrack != "" {
		request.UpgradeFrom = &httpstore.UpgradeFrom{Version: params.UpgradeFromVersion, Track: params.UpgradeFromTrack}
	}
	return request
}
