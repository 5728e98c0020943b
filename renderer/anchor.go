package renderer

// anchor maps media time to real time: a frame stamped t is due at
// realUs + (t - mediaUs). Both values are -1 while unset. Validity is
// tracked separately because media timestamps may legitimately be negative.
type anchor struct {
	mediaUs int64
	realUs  int64
	ok      bool
}

func newAnchor() anchor {
	return anchor{mediaUs: -1, realUs: -1}
}

func (a *anchor) valid() bool {
	return a.ok
}

func (a *anchor) set(mediaUs, realUs int64) {
	a.mediaUs = mediaUs
	a.realUs = realUs
	a.ok = true
}

func (a *anchor) reset() {
	*a = newAnchor()
}

// realTimeFor projects a media timestamp onto the real-time axis.
func (a *anchor) realTimeFor(mediaUs int64) int64 {
	return a.realUs + (mediaUs - a.mediaUs)
}

// mediaTimeAt interpolates the media position at a real time.
func (a *anchor) mediaTimeAt(realUs int64) int64 {
	return realUs - a.realUs + a.mediaUs
}
