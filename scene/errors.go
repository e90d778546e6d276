package scene

import "errors"

var (
	ErrUnknownVersion   = errors.New("scene: version has not been produced yet")
	ErrVersionCompacted = errors.New("scene: version no longer retained by the mutation log")
	ErrVersionGap       = errors.New("scene: flush does not continue from the applied version")
	ErrWrongScene       = errors.New("scene: flush targets a different scene")

	ErrInvalidMutation = errors.New("scene: invalid mutation")
	ErrNodeExists      = errors.New("scene: node already allocated")
	ErrUnknownNode     = errors.New("scene: unknown node")
	ErrInvalidParent   = errors.New("scene: invalid parent/child relation")
	ErrSlotExists      = errors.New("scene: data slot already allocated")
	ErrUnknownSlot     = errors.New("scene: unknown data slot")
	ErrValueKind       = errors.New("scene: value kind does not match slot type")
	ErrUnknownResource = errors.New("scene: resource not referenced by node")
)
