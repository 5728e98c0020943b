package renderer

import "github.com/zsiec/avsync/media"

func (r *Renderer) onQueueBuffer(kind media.StreamKind, buf *media.TimedBuffer) {
	r.takeInbound(buf)
	r.markStream(kind)

	if r.dropWhileFlushing(kind) {
		r.counters.stream(kind).flushed.Add(1)
		buf.Release(false)
		return
	}

	r.mu.Lock()
	r.queueLocked(kind).push(&entry{buf: buf})
	r.mu.Unlock()
	r.counters.stream(kind).lastTsUs.Store(buf.TimeUs)

	r.scheduleDrain(kind)
	r.syncQueues()
}

func (r *Renderer) onQueueEOS(kind media.StreamKind, result error) {
	if r.dropWhileFlushing(kind) {
		return
	}

	r.mu.Lock()
	r.queueLocked(kind).push(&entry{result: result})
	r.mu.Unlock()

	r.scheduleDrain(kind)
	r.syncQueues()
}

// dropWhileFlushing reports whether kind has a flush outstanding, in which
// case new entries are discarded.
func (r *Renderer) dropWhileFlushing(kind media.StreamKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.flushingFlagLocked(kind)
}

// markStream records that kind has produced data. The startup gate arms the
// first time both streams are known.
func (r *Renderer) markStream(kind media.StreamKind) {
	switch kind {
	case media.StreamAudio:
		if r.hasAudio {
			return
		}
		r.hasAudio = true
		if !r.isPaused() {
			r.startSink()
		}
	case media.StreamVideo:
		if r.hasVideo {
			return
		}
		r.hasVideo = true
	}
	r.log.Debug("stream detected", "stream", kind)
	if r.hasAudio && r.hasVideo {
		r.setSyncing(true)
	}
}

func (r *Renderer) setSyncing(v bool) {
	r.syncing = v
	r.counters.syncing.Store(v)
}

func (r *Renderer) scheduleDrain(kind media.StreamKind) {
	if kind == media.StreamAudio {
		r.scheduleAudioDrain(0)
		return
	}
	r.scheduleVideoDrain()
}

// syncQueues runs the startup gate. While syncing, it compares the queue
// heads: if audio starts more than SyncWindow ahead of video, one leading
// audio buffer is dropped per call. The gate opens once the heads are close
// enough or either head is an end-of-stream marker. With an empty queue it
// waits for more data.
func (r *Renderer) syncQueues() {
	if !r.syncing {
		return
	}

	r.mu.Lock()
	audioHead := r.audioQueue.head()
	videoHead := r.videoQueue.head()
	if audioHead == nil || videoHead == nil {
		r.mu.Unlock()
		return
	}
	if audioHead.isEOS() || videoHead.isEOS() {
		r.mu.Unlock()
		r.syncQueuesDone()
		return
	}

	diffUs := videoHead.buf.TimeUs - audioHead.buf.TimeUs
	if diffUs > r.cfg.SyncWindow.Microseconds() {
		dropped := r.audioQueue.pop()
		r.mu.Unlock()

		r.log.Debug("dropping audio ahead of video",
			"audio_ts_us", dropped.buf.TimeUs,
			"video_ts_us", videoHead.buf.TimeUs,
			"diff_us", diffUs,
		)
		r.counters.audio.dropped.Add(1)
		dropped.buf.Release(false)
		return
	}
	r.mu.Unlock()

	r.syncQueuesDone()
}

// syncQueuesDone opens the gate and kicks both drains.
func (r *Renderer) syncQueuesDone() {
	if !r.syncing {
		return
	}
	r.setSyncing(false)
	r.log.Debug("streams synchronized")

	r.scheduleAudioDrain(0)
	r.scheduleVideoDrain()
}
