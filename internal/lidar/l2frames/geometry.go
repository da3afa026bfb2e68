package l2frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrTransformUnavailable is wrapped by every TransformError.
var ErrTransformUnavailable = errors.New("transform unavailable")

// TransformRequest names the frames and times of one point transform.
// SourceTime is when the point was measured, TargetTime when it should be
// expressed in Target. FixedFrame, if set, is the world frame used to
// relate the two times; an empty FixedFrame means both times are the same.
type TransformRequest struct {
	Target     string
	TargetTime time.Time
	Source     string
	SourceTime time.Time
	FixedFrame string
}

// TransformError reports why a single point could not be transformed.
type TransformError struct {
	Target string
	Source string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s -> %s: %v", e.Source, e.Target, e.Err)
}

func (e *TransformError) Unwrap() []error {
	return []error{ErrTransformUnavailable, e.Err}
}

// Transformer moves a point between coordinate frames. Implementations must
// honour ctx cancellation; the decoder bounds every call with a timeout.
type Transformer interface {
	TransformPoint(ctx context.Context, req TransformRequest, p r3.Vec) (r3.Vec, error)
}

// RigidTransform rotates then translates a point.
type RigidTransform struct {
	Rotation    r3.Rotation
	Translation r3.Vec
}

// Apply returns R·p + t.
func (t RigidTransform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.Rotation.Rotate(p), t.Translation)
}

// NewRigidTransform builds a transform from a yaw/pitch/roll (radians,
// applied in that order about Z, Y and X) and a translation.
func NewRigidTransform(yaw, pitch, roll float64, translation r3.Vec) RigidTransform {
	qz := r3.NewRotation(yaw, r3.Vec{Z: 1})
	qy := r3.NewRotation(pitch, r3.Vec{Y: 1})
	qx := r3.NewRotation(roll, r3.Vec{X: 1})
	return RigidTransform{
		Rotation:    composeRotations(qz, qy, qx),
		Translation: translation,
	}
}

// composeRotations returns the rotation applying the last argument first.
func composeRotations(rs ...r3.Rotation) r3.Rotation {
	out := quat.Number{Real: 1}
	for _, r := range rs {
		out = quat.Mul(out, quat.Number(r))
	}
	return r3.Rotation(out)
}

// StaticTransformer serves time-invariant transforms between named frames,
// such as a sensor mounted rigidly on a vehicle or pole.
type StaticTransformer struct {
	mu         sync.RWMutex
	transforms map[[2]string]RigidTransform
}

// NewStaticTransformer returns an empty transformer.
func NewStaticTransformer() *StaticTransformer {
	return &StaticTransformer{transforms: make(map[[2]string]RigidTransform)}
}

// Set registers the transform taking points from source into target.
func (s *StaticTransformer) Set(target, source string, t RigidTransform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transforms[[2]string{target, source}] = t
}

// TransformPoint implements Transformer. Identical frames pass through.
func (s *StaticTransformer) TransformPoint(ctx context.Context, req TransformRequest, p r3.Vec) (r3.Vec, error) {
	if err := ctx.Err(); err != nil {
		return r3.Vec{}, &TransformError{Target: req.Target, Source: req.Source, Err: err}
	}
	if req.Target == req.Source {
		return p, nil
	}

	s.mu.RLock()
	t, ok := s.transforms[[2]string{req.Target, req.Source}]
	s.mu.RUnlock()
	if !ok {
		return r3.Vec{}, &TransformError{Target: req.Target, Source: req.Source, Err: errors.New("no transform registered")}
	}
	return t.Apply(p), nil
}
