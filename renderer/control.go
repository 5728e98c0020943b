package renderer

import "github.com/zsiec/avsync/media"

// onFlush empties one stream. The startup gate is released first: with one
// side flushed, waiting for it to line up with the other could stall both.
func (r *Renderer) onFlush(kind media.StreamKind) {
	r.syncQueuesDone()

	r.mu.Lock()
	entries := r.queueLocked(kind).takeAll()
	*r.flushingFlagLocked(kind) = false
	r.mu.Unlock()

	r.releaseFlushed(kind, entries)
	sc := r.counters.stream(kind)
	sc.flushes.Add(1)
	sc.eos.Store(false)

	switch kind {
	case media.StreamAudio:
		r.drainAudioPending = false
		r.audioGeneration++
		r.audioEnded = false
	case media.StreamVideo:
		r.drainVideoPending = false
		r.videoGeneration++
		r.videoRenderingStarted = false
		r.counters.renderingStarted.Store(false)
	}
	r.anchor.reset()
	r.counters.recordAnchor(&r.anchor)

	r.log.Debug("flushed", "stream", kind, "discarded", len(entries), "generation", r.generation(kind))
	r.notifyFlushComplete(kind)
}

func (r *Renderer) onPause() {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	r.mu.Unlock()

	r.invalidateDrains()
	if r.hasAudio {
		r.sink.Pause()
	}
	r.log.Debug("paused")
}

func (r *Renderer) onResume() {
	r.mu.Lock()
	if !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	r.mu.Unlock()

	if r.hasAudio {
		r.startSink()
	}
	r.invalidateDrains()
	r.log.Debug("resumed")

	r.scheduleAudioDrain(0)
	r.scheduleVideoDrain()
}

// invalidateDrains turns every scheduled drain into a no-op.
func (r *Renderer) invalidateDrains() {
	r.drainAudioPending = false
	r.drainVideoPending = false
	r.audioGeneration++
	r.videoGeneration++
}

func (r *Renderer) startSink() {
	if err := r.sink.Start(); err != nil {
		r.log.Warn("audio sink start failed", "error", err)
	}
}

// onTimeDiscontinuity drops everything queued on both streams, forgets the
// anchor point and re-arms the startup gate if both streams are known.
func (r *Renderer) onTimeDiscontinuity() {
	r.mu.Lock()
	audio := r.audioQueue.takeAll()
	video := r.videoQueue.takeAll()
	r.mu.Unlock()

	r.releaseFlushed(media.StreamAudio, audio)
	r.releaseFlushed(media.StreamVideo, video)

	r.invalidateDrains()
	r.anchor.reset()
	r.counters.recordAnchor(&r.anchor)
	r.audioEnded = false
	r.setSyncing(r.hasAudio && r.hasVideo)

	r.log.Debug("time discontinuity",
		"discarded_audio", len(audio),
		"discarded_video", len(video),
		"syncing", r.syncing,
	)
}

func (r *Renderer) releaseFlushed(kind media.StreamKind, entries []*entry) {
	sc := r.counters.stream(kind)
	for _, e := range entries {
		if e.isEOS() {
			continue
		}
		sc.flushed.Add(1)
		e.buf.Release(false)
	}
}

// onAudioSinkChanged adopts the new sink's written-frame count so pending
// playout is computed against the device actually in use.
func (r *Renderer) onAudioSinkChanged() {
	n, err := r.sink.FramesWritten()
	if err != nil {
		r.log.Warn("audio sink frame count unavailable", "error", err)
		return
	}
	r.framesWritten = n
	r.partialBytes = 0
	r.counters.framesWritten.Store(n)
	r.log.Debug("audio sink changed", "frames_written", n)
}
