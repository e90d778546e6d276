package types

import (
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Guid identifies a participant (producer or renderer process).
type Guid ulid.ULID

// Allocate a new random participant address.
func NewGuid() Guid {
	return Guid(ulid.Make())
}

// Parse a participant address from its canonical string form.
func ParseGuid(s string) (Guid, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return Guid{}, fmt.Errorf("types: invalid guid %q: %w", s, err)
	}
	return Guid(id), nil
}

func (g Guid) String() string {
	return ulid.ULID(g).String()
}

func (g Guid) IsZero() bool {
	return g == Guid{}
}

// SceneId is the numeric part of a scene identity.
type SceneId uint64

func (id SceneId) String() string {
	return fmt.Sprintf("scene#%d", uint64(id))
}

// SceneIdentity names a scene together with the process that owns it.
type SceneIdentity struct {
	Id    SceneId
	Owner Guid
}

func (si SceneIdentity) String() string {
	return fmt.Sprintf("%s@%s", si.Id, si.Owner)
}

// Handle of a node inside one scene.
type NodeHandle uint32

// Handle of a data slot inside one scene. Slot ids are chosen by the
// producer and are only unique within their scene.
type DataSlotId uint32

// A client-supplied tag attached to a flush. Zero means "no tag".
type VersionTag uint64

// ResourceHash is the 128-bit content identity of a resource.
type ResourceHash [16]byte

func (h ResourceHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h ResourceHash) IsZero() bool {
	return h == ResourceHash{}
}

// Short form used in log output.
func (h ResourceHash) Short() string {
	return hex.EncodeToString(h[:4])
}
