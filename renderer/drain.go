package renderer

import (
	"time"

	"github.com/zsiec/avsync/media"
)

// scheduleAudioDrain posts an audio drain after delay unless one is already
// pending, the gate is closed, the renderer is paused or nothing is queued.
func (r *Renderer) scheduleAudioDrain(delay time.Duration) {
	if r.drainAudioPending || r.syncing || r.isPaused() {
		return
	}
	r.mu.Lock()
	empty := r.audioQueue.empty()
	r.mu.Unlock()
	if empty {
		return
	}

	r.drainAudioPending = true
	gen := r.audioGeneration
	r.loop.PostDelayed(delay, func() { r.onDrainAudioQueue(gen) })
}

func (r *Renderer) onDrainAudioQueue(gen int64) {
	if gen != r.audioGeneration {
		return
	}
	r.drainAudioPending = false
	if r.syncing || r.isPaused() {
		return
	}
	if !r.drainAudioQueue() {
		return
	}
	r.scheduleAudioDrain(r.audioRefillDelay())
}

// drainAudioQueue copies queued audio into the sink until the sink is full
// or the queue runs dry. The anchor point is refreshed at the start of each
// buffer. It reports whether entries remain queued.
func (r *Renderer) drainAudioQueue() bool {
	played, err := r.sink.PlayedFrames()
	if err != nil {
		r.log.Debug("audio sink position unavailable", "error", err)
		return !r.audioQueueEmpty()
	}

	frameSize := r.sink.FrameSize()
	availBytes := (int64(r.sink.FrameCount())-(r.framesWritten-played))*int64(frameSize) - int64(r.partialBytes)

	for availBytes > 0 {
		r.mu.Lock()
		e := r.audioQueue.head()
		r.mu.Unlock()
		if e == nil {
			break
		}

		if e.isEOS() {
			r.popAudio()
			r.audioEnded = true
			r.notifyEOS(media.StreamAudio, e.result)
			// Video may now have to anchor itself.
			r.scheduleVideoDrain()
			return false
		}

		if e.offset == 0 {
			pending := r.framesWritten - played
			realUs := r.nowUs() + r.sink.Latency().Microseconds()/2 + r.framesToDuration(pending).Microseconds()
			r.anchor.set(e.buf.TimeUs, realUs)
			r.counters.recordAnchor(&r.anchor)
			r.scheduleVideoDrain()
		}

		n := int64(len(e.buf.Data) - e.offset)
		if n > availBytes {
			n = availBytes
		}
		if n > 0 {
			written, err := r.sink.Write(e.buf.Data[e.offset : e.offset+int(n)])
			if err != nil {
				r.log.Warn("audio sink write failed", "error", err)
				break
			}
			e.offset += written
			availBytes -= int64(written)
			r.advanceFramesWritten(written, frameSize)
			if int64(written) < n {
				break
			}
		}

		if e.offset >= len(e.buf.Data) {
			r.popAudio()
			r.counters.audio.rendered.Add(1)
			e.buf.Release(true)
		}
	}

	r.notifyPosition()
	return !r.audioQueueEmpty()
}

// audioRefillDelay estimates when the sink will have room again: half of
// the audio still buffered in it, but never less than AudioRetryDelay.
func (r *Renderer) audioRefillDelay() time.Duration {
	delay := r.cfg.AudioRetryDelay
	played, err := r.sink.PlayedFrames()
	if err != nil {
		return delay
	}
	if d := r.framesToDuration(r.framesWritten-played) / 2; d > delay {
		return d
	}
	return delay
}

func (r *Renderer) framesToDuration(frames int64) time.Duration {
	return time.Duration(float64(frames) * r.sink.MsecsPerFrame() * float64(time.Millisecond))
}

func (r *Renderer) advanceFramesWritten(bytes, frameSize int) {
	total := r.partialBytes + bytes
	r.framesWritten += int64(total / frameSize)
	r.partialBytes = total % frameSize
	r.counters.framesWritten.Store(r.framesWritten)
}

func (r *Renderer) popAudio() {
	r.mu.Lock()
	r.audioQueue.pop()
	r.mu.Unlock()
}

func (r *Renderer) audioQueueEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioQueue.empty()
}

// videoAnchors reports whether video establishes the anchor point itself.
// Audio owns the anchor while an audio stream exists, has not ended and
// has data queued to set it from.
func (r *Renderer) videoAnchors() bool {
	return !r.hasAudio || r.audioEnded || r.audioQueueEmpty()
}

// scheduleVideoDrain posts a video drain timed for the head frame's due
// time. Waits longer than MaxVideoDelay are cut to VideoRecheckDelay. With
// no anchor point and audio queued, nothing is posted; the audio drain
// kicks video once it sets the anchor. With no anchor and an audio stream
// that has gone quiet, video waits VideoRecheckDelay and then anchors
// itself.
func (r *Renderer) scheduleVideoDrain() {
	if r.drainVideoPending || r.syncing || r.isPaused() {
		return
	}
	r.mu.Lock()
	e := r.videoQueue.head()
	r.mu.Unlock()
	if e == nil {
		return
	}

	var delay time.Duration
	if !e.isEOS() {
		switch {
		case r.anchor.valid():
			delay = time.Duration(r.anchor.realTimeFor(e.buf.TimeUs)-r.nowUs()) * time.Microsecond
			if delay > r.cfg.MaxVideoDelay {
				delay = r.cfg.VideoRecheckDelay
			}
		case !r.videoAnchors():
			return
		case r.hasAudio && !r.audioEnded:
			delay = r.cfg.VideoRecheckDelay
		}
	}

	r.drainVideoPending = true
	gen := r.videoGeneration
	r.loop.PostDelayed(delay, func() { r.onDrainVideoQueue(gen) })
}

func (r *Renderer) onDrainVideoQueue(gen int64) {
	if gen != r.videoGeneration {
		return
	}
	r.drainVideoPending = false
	if r.syncing || r.isPaused() {
		return
	}
	r.drainVideoQueue()
	r.scheduleVideoDrain()
}

// drainVideoQueue releases at most the head video frame. A frame more than
// EarlyThreshold ahead of its due time stays queued; one more than
// LateThreshold behind is released with render=false.
func (r *Renderer) drainVideoQueue() {
	r.mu.Lock()
	e := r.videoQueue.head()
	r.mu.Unlock()
	if e == nil {
		return
	}

	if e.isEOS() {
		r.popVideo()
		r.notifyEOS(media.StreamVideo, e.result)
		r.videoLateByUs = 0
		r.counters.videoLateByUs.Store(0)
		r.notifyPosition()
		return
	}

	now := r.nowUs()
	if !r.anchor.valid() {
		if !r.videoAnchors() {
			return
		}
		r.anchor.set(e.buf.TimeUs, now)
		r.counters.recordAnchor(&r.anchor)
	}

	lateUs := now - r.anchor.realTimeFor(e.buf.TimeUs)
	if lateUs < -r.cfg.EarlyThreshold.Microseconds() {
		return
	}

	r.popVideo()
	r.videoLateByUs = lateUs
	r.counters.videoLateByUs.Store(lateUs)

	if lateUs > r.cfg.LateThreshold.Microseconds() {
		r.log.Debug("video frame late", "ts_us", e.buf.TimeUs, "late_us", lateUs)
		r.counters.video.dropped.Add(1)
		e.buf.Release(false)
	} else {
		r.counters.video.rendered.Add(1)
		e.buf.Release(true)
		if !r.videoRenderingStarted {
			r.videoRenderingStarted = true
			r.notifyVideoRenderingStart()
		}
	}

	r.notifyPosition()
}

func (r *Renderer) popVideo() {
	r.mu.Lock()
	r.videoQueue.pop()
	r.mu.Unlock()
}
