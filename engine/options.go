package engine

import (
	"github.com/benbjohnson/clock"

	"go.viam.com/lio/spatialmath"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where outputs are sent. The default logs them.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithClock sets the clock pacing the background loop.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithInitialPose sets the body pose the estimate starts from.
func WithInitialPose(pose spatialmath.Transform) Option {
	return func(e *Engine) {
		e.initialPose = pose
	}
}
