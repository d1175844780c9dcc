// Package capture provides the device side of the sampler: camera selection,
// device sources for the stream synchronizer and the controller that drives
// them.
//
// SyntheticSource generates image, depth and face-detection streams at a
// fixed cadence with optional drop injection. ReplaySource plays back a
// frame dump written by recorder.FrameDumper.
//
// Controller owns the stop → reconfigure → start contract:
//
//	ctrl, _ := capture.NewController(sync, func(sel capture.CameraSelector) (capture.Device, error) {
//	    return capture.NewSyntheticSource(capture.SyntheticConfig{Camera: sel})
//	}, capture.ControllerConfig{DepthEnabled: true, MetadataEnabled: true})
//
//	ctrl.Start(ctx)
//	ctrl.SwitchCamera(ctx, capture.CameraSelector{Facing: capture.FacingFront, Mirrored: true})
//	ctrl.Stop()
package capture
