package renderer

import "errors"

var (
	ErrInterrupted    = errors.New("renderer: interrupted while waiting for commands")
	ErrClosed         = errors.New("renderer: renderer closed")
	ErrSceneNotKnown  = errors.New("renderer: scene not published")
	ErrNotSubscribed  = errors.New("renderer: scene not subscribed")
	ErrNoSubscription = errors.New("renderer: no subscription handler attached")
	ErrResyncFailed   = errors.New("renderer: scene resync could not be requested")
	ErrRunning        = errors.New("renderer: render loop already running")
)
