// Package vimbacapture acquires frames from GenICam-style machine-vision
// cameras and hands them, one copy per frame, to a pulling consumer such as a
// GStreamer source element.
//
// The camera completes frames asynchronously on its own driver thread. A
// Source keeps a small pool of device buffers in flight, routes every
// completion into a per-handle queue, and serves PullFrame from that queue
// with bounded waits so the consumer can cancel at any time.
//
// # Quick Start
//
//	src, err := vimbacapture.New(vimbacapture.Config{
//	    SDK:      sdk,         // device.SDK binding (vendor library or simcam)
//	    CameraID: "DEV_000F315C1234",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := src.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	if err := src.NegotiateFormat(ctx, "GRAY8"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := src.StartSession(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    frame, err := src.PullFrame(func() bool { return ctx.Err() == nil })
//	    if errors.Is(err, vimbacapture.ErrFlushing) {
//	        break
//	    }
//	    // Process frame.Data...
//	}
//
// # Settings
//
// Camera features (exposure, gain, auto modes, region of interest, trigger)
// are described by a settings.Settings snapshot. Zero values leave the device
// untouched. The snapshot is applied at StartSession and re-applied with
// UpdateSettings; LastReport tells which features were applied, skipped or
// rejected.
//
// # Error Handling
//
// Failures carry typed errors: *OpenError, *CommandError (feature name,
// operation and native Code), *FormatError, *ResourceError and
// *TimeoutError. ErrFlushing is not a failure: it signals shutdown.
package vimbacapture
