package scene

import (
	"fmt"
	"time"

	"github.com/achilleasa/scenerelay/types"
)

// Flush is an ordered batch of mutations that is applied atomically.
//
// A flush takes a scene from version Since to version Version. A Resync
// flush carries the complete scene state and replaces whatever the receiver
// holds; its Since field is ignored on apply.
type Flush struct {
	Scene   types.SceneId
	Since   uint64
	Version uint64
	Tag     types.VersionTag
	Resync  bool

	// Unix time in milliseconds after which the scene content carried by
	// this flush is considered outdated. Zero disables expiration.
	ExpiresAt int64

	Mutations []Mutation

	// Resources referenced by SetResource mutations in this flush, in order
	// of first appearance.
	Resources []types.ResourceHash
}

func (f *Flush) String() string {
	kind := "delta"
	if f.Resync {
		kind = "resync"
	}
	return fmt.Sprintf("%s flush %s v%d->v%d (%d mutations, %d resources, tag %d)",
		kind, f.Scene, f.Since, f.Version, len(f.Mutations), len(f.Resources), f.Tag)
}

// Expiration returns the expiration time of the flush content and false if
// the flush carries none.
func (f *Flush) Expiration() (time.Time, bool) {
	if f.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(f.ExpiresAt), true
}

// ExpiresAtMillis converts t into the ExpiresAt representation. The zero
// time disables expiration.
func ExpiresAtMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Collect the distinct resources referenced by a mutation list.
func referencedResources(mutations []Mutation) []types.ResourceHash {
	var (
		out  []types.ResourceHash
		seen map[types.ResourceHash]struct{}
	)
	for _, m := range mutations {
		if m.Op != OpSetResource {
			continue
		}
		if seen == nil {
			seen = make(map[types.ResourceHash]struct{})
		}
		if _, ok := seen[m.Resource]; ok {
			continue
		}
		seen[m.Resource] = struct{}{}
		out = append(out, m.Resource)
	}
	return out
}
