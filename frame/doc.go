// Package frame sequences the per-frame work of the renderer.
//
// Every frame walks the same cycle:
//
//	Idle → Editing → Syncing → Dispatching → Presenting → Idle
//
// Editing drains the edit queue into the world. Syncing uploads every dirty
// chunk and waits for all uploads; dispatch never starts while an upload is
// in flight. Dispatching traces the frame against the device-resident chunks
// and Presenting hands it to a Presenter.
//
// Resize starts a new epoch. A dispatch that was running when the epoch
// changed is canceled and its result, if any, is discarded without reaching
// the presenter.
//
// Uploads that fail for lack of device memory leave their chunks dirty; the
// previous device contents keep being rendered and the upload is retried on
// the next frame. When exhaustion persists the render scale is halved, down
// to MinRenderScale, and restored after the next clean sync.
package frame
