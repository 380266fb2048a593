package envmanager

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/roadway/internal/frames"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/transport"
)

// TransformResolver is the client side of the transform resolution service.
type TransformResolver interface {
	GetTransform(ctx context.Context, target, source string) (frames.FrameTransform, error)
}

// ServiceState is the outcome of the startup transform service probe.
type ServiceState int32

const (
	ServiceUnknown ServiceState = iota
	ServiceAvailable
	ServiceUnavailable
)

func (s ServiceState) String() string {
	switch s {
	case ServiceAvailable:
		return "available"
	case ServiceUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// CheckTransformService probes the transform service once, waiting at
// most timeout. When the service cannot be reached the node logs a warning
// and publishes a CAUTION alert, then carries on without it.
func (n *Node) CheckTransformService(ctx context.Context, r TransformResolver, timeout time.Duration) ServiceState {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := r.GetTransform(probeCtx, messages.FrameMap, messages.FrameBody)
	switch {
	case err == nil, errors.Is(err, transport.ErrNoTransform):
		// A service that answers, even without a path, is available.
		n.service.Store(int32(ServiceAvailable))
		logf("transform service available")
		return ServiceAvailable
	case ctx.Err() != nil:
		// Shutting down before the probe finished.
		return ServiceUnknown
	case transport.Unreachable(err):
		n.service.Store(int32(ServiceUnavailable))
		logf("WARNING: transform service unavailable after %s: %v", timeout, err)
		n.publishAlert(messages.AlertCaution, "transform service unavailable: "+err.Error())
		return ServiceUnavailable
	default:
		n.service.Store(int32(ServiceAvailable))
		logf("WARNING: transform service answered with error: %v", err)
		return ServiceAvailable
	}
}
