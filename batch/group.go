package batch

import (
	"context"

	"github.com/docker/go-units"

	"github.com/ic-communities/deployutils/assets"
)

// Group is a set of assets sent together in one execute_batch call.
type Group struct {
	Size   int
	Assets []assets.Asset
}

// Keys returns the asset keys of the group in order.
func (g Group) Keys() []string {
	keys := make([]string, 0, len(g.Assets))
	for _, a := range g.Assets {
		keys = append(keys, a.Key)
	}
	return keys
}

// Operations converts the group to StoreAsset operations.
func (g Group) Operations(integrityHash bool) []Operation {
	ops := make([]Operation, 0, len(g.Assets))
	for _, a := range g.Assets {
		op := &StoreAsset{
			Key:             a.Key,
			ContentType:     a.ContentType,
			ContentEncoding: a.ContentEncoding,
			Content:         a.Content,
		}
		if integrityHash {
			op.SHA256 = assets.Checksum(a.Content)
		}
		ops = append(ops, Operation{StoreAsset: op})
	}
	return ops
}

// GroupAssets packs assets in input order into groups whose total size stays within ceiling.
// A new group starts when the next asset doesn't fit into the current one.
// An asset larger than ceiling gets a group of its own. A ceiling <= 0 selects DefaultMessageCeiling.
func GroupAssets(items []assets.Asset, ceiling int) []Group {
	if ceiling <= 0 {
		ceiling = DefaultMessageCeiling
	}

	var groups []Group
	for _, a := range items {
		last := len(groups) - 1
		if last < 0 || groups[last].Size+a.Size() > ceiling {
			groups = append(groups, Group{})
			last++
		}
		groups[last].Assets = append(groups[last].Assets, a)
		groups[last].Size += a.Size()
	}
	return groups
}

// ExecuteGroups sends the groups one after the other and stops at the first failure.
// The returned RemoteCallError carries the index of the failed group in ChunkIndex.
func (u *Uploader) ExecuteGroups(ctx context.Context, executor BatchExecutor, groups []Group) error {
	for i, group := range groups {
		if len(group.Assets) == 0 {
			continue
		}

		pending, sums, err := u.pending(group)
		if err != nil {
			return err
		}
		if len(pending.Assets) == 0 {
			continue
		}

		first := pending.Assets[0].Key
		if err := ctx.Err(); err != nil {
			return cancelled(first, StageExecuteBatch, err)
		}

		u.logger.Printf("Uploading group %d/%d: %d asset(s), %s", i+1, len(groups), len(pending.Assets),
			units.HumanSizeWithPrecision(float64(pending.Size), 3))
		for _, key := range pending.Keys() {
			u.logger.Debugf("  %s", key)
		}

		ops := pending.Operations(u.config.IntegrityHash)
		if err := u.call(int64(pending.Size), func() error { return executor.ExecuteBatch(ctx, ops) }); err != nil {
			return &RemoteCallError{Stage: StageExecuteBatch, Key: first, ChunkIndex: i, Err: err}
		}
		u.report(ProgressEvent{Key: first, Stage: StageExecuteBatch, ChunkIndex: i, Chunks: len(groups), Bytes: int64(pending.Size)})

		for k, sum := range sums {
			a := pending.Assets[k]
			if err := u.record(UploadResult{Key: a.Key, Size: int64(a.Size()), Chunks: 1, SHA256: sum}); err != nil {
				return err
			}
		}
	}
	return nil
}

// pending drops the assets the journal already has with identical content and returns the
// digests of the remaining ones. Nothing is hashed without a journal.
func (u *Uploader) pending(group Group) (Group, [][]byte, error) {
	if u.config.Journal == nil {
		return group, nil, nil
	}

	var out Group
	var sums [][]byte
	for _, a := range group.Assets {
		sum := assets.Checksum(a.Content)
		skip, err := u.alreadyCommitted(UploadResult{Key: a.Key, SHA256: sum})
		if err != nil {
			return Group{}, nil, err
		}
		if skip {
			continue
		}
		out.Assets = append(out.Assets, a)
		out.Size += a.Size()
		sums = append(sums, sum)
	}
	return out, sums, nil
}
