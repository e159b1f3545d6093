package engine

import (
	"sync"

	"github.com/edaniels/golog"

	"go.viam.com/lio/sample"
	"go.viam.com/lio/state"
)

// Publisher receives the engine's outputs. Calls are made from the control loop goroutine and
// must not block for long.
type Publisher interface {
	// State is called once per localized cycle; corrected is false when the update was degenerate.
	State(s state.State, corrected bool)
	// PointCloud is called with the registered cloud of a cycle, in the global frame.
	PointCloud(cloud sample.PointCloud)
	// FullPointCloud is called with every cloud inserted into the map.
	FullPointCloud(cloud sample.PointCloud)
}

// LogPublisher logs every output at debug level. It is the engine's default publisher.
type LogPublisher struct {
	Logger golog.Logger
}

// State logs the pose.
func (p LogPublisher) State(s state.State, corrected bool) {
	p.Logger.Debugw("state", "time", s.Time, "position", s.Position, "corrected", corrected)
}

// PointCloud logs the size of the registered cloud.
func (p LogPublisher) PointCloud(cloud sample.PointCloud) {
	p.Logger.Debugw("registered cloud", "points", cloud.Len(), "frame", cloud.Frame)
}

// FullPointCloud logs the size of the mapped cloud.
func (p LogPublisher) FullPointCloud(cloud sample.PointCloud) {
	p.Logger.Debugw("mapped cloud", "points", cloud.Len(), "frame", cloud.Frame)
}

// RecordingPublisher keeps everything it is given. It is safe for concurrent use.
type RecordingPublisher struct {
	mu         sync.Mutex
	states     []state.State
	corrected  []bool
	clouds     []sample.PointCloud
	fullClouds []sample.PointCloud
}

// State records s.
func (p *RecordingPublisher) State(s state.State, corrected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	p.corrected = append(p.corrected, corrected)
}

// PointCloud records cloud.
func (p *RecordingPublisher) PointCloud(cloud sample.PointCloud) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clouds = append(p.clouds, cloud)
}

// FullPointCloud records cloud.
func (p *RecordingPublisher) FullPointCloud(cloud sample.PointCloud) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullClouds = append(p.fullClouds, cloud)
}

// States returns the recorded states and their corrected flags.
func (p *RecordingPublisher) States() ([]state.State, []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]state.State(nil), p.states...), append([]bool(nil), p.corrected...)
}

// Clouds returns the recorded registered and mapped clouds.
func (p *RecordingPublisher) Clouds() (registered, mapped []sample.PointCloud) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sample.PointCloud(nil), p.clouds...), append([]sample.PointCloud(nil), p.fullClouds...)
}
