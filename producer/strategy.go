package producer

import (
	"fmt"
	"strings"
)

// Strategy decides what a scene producer transmits to its subscribers.
type Strategy uint8

const (
	// Every flush carries the mutation log slice since the subscriber's
	// last version. Subscribers must join before the mutations they need
	// were produced.
	Direct Strategy = iota

	// A complete copy of the scene state is kept so that late subscribers
	// and resync requests can be served with a full-state flush.
	ShadowCopy
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case ShadowCopy:
		return "shadow"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "direct":
		return Direct, nil
	case "shadow", "shadow-copy":
		return ShadowCopy, nil
	}
	return Direct, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}
