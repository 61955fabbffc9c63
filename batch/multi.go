package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ic-communities/deployutils/assets"
)

// Policy decides what happens to the remaining keys when one key fails.
type Policy int

const (
	// FailFast stops at the first failed key and returns its error.
	FailFast Policy = iota
	// BestEffort uploads every key and returns all failures as UploadErrors.
	BestEffort
)

// ParsePolicy parses "fail-fast" or "best-effort".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail-fast":
		return FailFast, nil
	case "best-effort":
		return BestEffort, nil
	default:
		return FailFast, &ConfigurationError{Field: "Policy", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// UploadAllOptions configures a multi-key upload.
type UploadAllOptions struct {
	Policy Policy
	// Concurrency is the number of keys uploaded at the same time. Chunks of one key are always sequential.
	// Default: 1
	Concurrency int
}

// UploadAll uploads every asset through the batch protocol.
// Results of successful keys are returned in input order.
func (u *Uploader) UploadAll(ctx context.Context, store Store, items []assets.Asset, opts UploadAllOptions) ([]UploadResult, error) {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.Key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, item.Key)
		}
		seen[item.Key] = true
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]*UploadResult, len(items))
	errs := make([]error, len(items))

	var g *errgroup.Group
	groupCtx := ctx
	if opts.Policy == FailFast {
		g, groupCtx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item

		if opts.Policy == FailFast && groupCtx.Err() != nil {
			break
		}

		g.Go(func() error {
			result, err := u.Upload(groupCtx, store, item.Key, item.Content)
			if err != nil {
				errs[i] = err
				if opts.Policy == FailFast {
					return err
				}
				u.logger.Errorf("Failed to upload %s: %s", item.Key, err)
				return nil
			}
			results[i] = &result
			return nil
		})
	}
	waitErr := g.Wait()

	uploaded := make([]UploadResult, 0, len(items))
	for _, r := range results {
		if r != nil {
			uploaded = append(uploaded, *r)
		}
	}

	if opts.Policy == FailFast {
		if waitErr != nil {
			return uploaded, waitErr
		}
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		return uploaded, nil
	}

	var failed UploadErrors
	for _, err := range errs {
		appendErr(&failed, err)
	}
	if len(failed) > 0 {
		return uploaded, failed
	}
	return uploaded, nil
}
