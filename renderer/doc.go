// Package renderer paces decoded audio and video buffers out to their sinks
// on a shared timeline.
//
// Decode pipelines hand [media.TimedBuffer] values to [Renderer.QueueBuffer]
// from any goroutine. Every request is marshalled onto a single worker
// goroutine (see [Renderer.Run]) that owns the per-stream queues, the anchor
// point mapping media time to wall-clock time, and the drain schedule:
//
//   - Audio is copied into the [sink.AudioSink] as device buffer space frees
//     up, refreshing the anchor point at the start of each buffer.
//   - Video frames are released when the anchor point says they are due;
//     frames later than [Config.LateThreshold] are released with render=false.
//   - When both streams are present, a startup gate withholds rendering until
//     the first audio and video timestamps are within [Config.SyncWindow],
//     dropping leading audio if it starts too far ahead of video.
//
// Flush, pause and resume never block the caller. Scheduled drains carry a
// per-stream generation number; a flush or pause bumps the generation so any
// drain already scheduled becomes a no-op when it fires.
//
// Progress is reported through a [Listener]: end of stream, flush complete,
// rate-limited position updates, and the first rendered video frame.
package renderer
