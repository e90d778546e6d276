package scene

import (
	"fmt"

	"github.com/achilleasa/scenerelay/types"
)

// A version mark records where a sealed version ends inside the log arena.
type versionMark struct {
	version uint64
	tag     types.VersionTag

	// Absolute index (including compacted entries) one past the last
	// mutation belonging to this version.
	end int
}

// MutationLog is the append-only edit history of a single scene. Mutations
// live in one contiguous arena; sealed versions are recorded as marks into
// it. The log is owned by a single producer and is not safe for concurrent use.
type MutationLog struct {
	scene types.SceneId

	// Mutation arena. entries[0] has absolute index offset.
	entries []Mutation
	offset  int

	// Sealed version marks in increasing version order. marks[0] is the
	// oldest retained version (the compaction base).
	marks []versionMark
}

// Create an empty mutation log at version 0.
func NewMutationLog(scene types.SceneId) *MutationLog {
	return &MutationLog{
		scene:   scene,
		entries: make([]Mutation, 0, 64),
		marks:   []versionMark{{}},
	}
}

// Append a mutation. The mutation becomes visible to BuildFlush once the
// next version is sealed.
func (l *MutationLog) Append(m Mutation) {
	l.entries = append(l.entries, m)
}

// Seal all mutations appended since the last seal into a new version and
// return its number. Sealing with no pending mutations still produces a new
// version so that tags can be delivered.
func (l *MutationLog) Seal(tag types.VersionTag) uint64 {
	last := l.marks[len(l.marks)-1]
	next := versionMark{
		version: last.version + 1,
		tag:     tag,
		end:     l.offset + len(l.entries),
	}
	l.marks = append(l.marks, next)
	return next.version
}

// Version returns the latest sealed version.
func (l *MutationLog) Version() uint64 {
	return l.marks[len(l.marks)-1].version
}

// Tag returns the tag of the latest sealed version.
func (l *MutationLog) Tag() types.VersionTag {
	return l.marks[len(l.marks)-1].tag
}

// Oldest version a flush can still be built from.
func (l *MutationLog) BaseVersion() uint64 {
	return l.marks[0].version
}

// Pending returns the number of appended but unsealed mutations.
func (l *MutationLog) Pending() int {
	return l.offset + len(l.entries) - l.marks[len(l.marks)-1].end
}

// PendingMutations returns a copy of the appended but unsealed mutations.
func (l *MutationLog) PendingMutations() []Mutation {
	start := l.marks[len(l.marks)-1].end - l.offset
	out := make([]Mutation, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// DiscardPending drops every unsealed mutation and returns how many were
// dropped.
func (l *MutationLog) DiscardPending() int {
	start := l.marks[len(l.marks)-1].end - l.offset
	dropped := len(l.entries) - start
	for i := start; i < len(l.entries); i++ {
		l.entries[i] = Mutation{}
	}
	l.entries = l.entries[:start]
	return dropped
}

// Len returns the number of retained mutations.
func (l *MutationLog) Len() int {
	return len(l.entries)
}

// BuildFlush returns every sealed mutation after version since, tagged with
// the latest sealed version. The returned slice does not alias the arena.
func (l *MutationLog) BuildFlush(since uint64) (Flush, error) {
	last := l.marks[len(l.marks)-1]
	if since > last.version {
		return Flush{}, fmt.Errorf("%w: %d > %d", ErrUnknownVersion, since, last.version)
	}

	from, err := l.markFor(since)
	if err != nil {
		return Flush{}, err
	}

	start := from.end - l.offset
	end := last.end - l.offset
	mutations := make([]Mutation, end-start)
	copy(mutations, l.entries[start:end])

	return Flush{
		Scene:     l.scene,
		Since:     since,
		Version:   last.version,
		Tag:       last.tag,
		Mutations: mutations,
		Resources: referencedResources(mutations),
	}, nil
}

// Compact drops all mutations up to and including version upTo. Flushes can
// no longer be built from versions older than upTo afterwards.
func (l *MutationLog) Compact(upTo uint64) error {
	if upTo <= l.marks[0].version {
		return nil
	}

	index := l.markIndex(upTo)
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, upTo)
	}

	mark := l.marks[index]
	drop := mark.end - l.offset
	remaining := make([]Mutation, len(l.entries)-drop, cap(l.entries)-drop)
	copy(remaining, l.entries[drop:])
	l.entries = remaining
	l.offset = mark.end
	l.marks = append(l.marks[:0:0], l.marks[index:]...)
	return nil
}

func (l *MutationLog) markFor(version uint64) (versionMark, error) {
	if version < l.marks[0].version {
		return versionMark{}, fmt.Errorf("%w: %d < %d", ErrVersionCompacted, version, l.marks[0].version)
	}
	index := l.markIndex(version)
	if index < 0 {
		return versionMark{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	return l.marks[index], nil
}

// Versions are contiguous so the mark index can be computed directly.
func (l *MutationLog) markIndex(version uint64) int {
	base := l.marks[0].version
	if version < base {
		return -1
	}
	index := int(version - base)
	if index >= len(l.marks) {
		return -1
	}
	return index
}
