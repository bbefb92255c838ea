package vimbacapture

import "context"

// FrameSource defines the contract a streaming host drives.
//
// Implementations must guarantee:
//   - PullFrame blocks at most one poll interval between liveness checks
//   - PullFrame returns ErrFlushing (never a nil frame with nil error) when
//     it gives up
//   - Every returned Frame owns its Data; nothing aliases device memory
//   - StopSession is idempotent and wakes a blocked PullFrame
//   - Stats is thread-safe
type FrameSource interface {
	// PullFrame returns the next frame, or ErrFlushing once alive reports
	// false or the session stops.
	//
	// Example:
	//   for {
	//       frame, err := src.PullFrame(func() bool { return ctx.Err() == nil })
	//       if errors.Is(err, vimbacapture.ErrFlushing) {
	//           return nil
	//       }
	//       if err != nil {
	//           return err
	//       }
	//       push(frame)
	//   }
	PullFrame(alive func() bool) (*Frame, error)

	// StartSession applies settings and starts acquisition.
	StartSession(ctx context.Context) error

	// StopSession stops acquisition and releases device buffers.
	StopSession(ctx context.Context) error

	// Stats returns current session statistics.
	Stats() Stats
}

var _ FrameSource = (*Source)(nil)
