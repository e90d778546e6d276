package producer

import "errors"

var (
	ErrSceneExists          = errors.New("producer: scene already exists")
	ErrUnknownScene         = errors.New("producer: unknown scene")
	ErrUnknownSubscriber    = errors.New("producer: unknown subscriber")
	ErrResyncUnavailable    = errors.New("producer: full scene state no longer available")
	ErrInvalidEdit          = errors.New("producer: pending edits cannot be applied")
	ErrUnknownStrategy      = errors.New("producer: unknown strategy")
	ErrResourceNotAvailable = errors.New("producer: resource payload not available")
)
