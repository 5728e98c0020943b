package renderer

import "github.com/zsiec/avsync/media"

// entry is one queued item: a buffer, or an end-of-stream marker when buf
// is nil.
type entry struct {
	buf    *media.TimedBuffer
	offset int
	result error
}

func (e *entry) isEOS() bool {
	return e.buf == nil
}

// queue is a FIFO of entries for one stream. Entries keep enqueue order;
// timestamps are not re-sorted.
type queue struct {
	entries []*entry
}

func (q *queue) push(e *entry) {
	q.entries = append(q.entries, e)
}

func (q *queue) head() *entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func (q *queue) pop() *entry {
	if len(q.entries) == 0 {
		return nil
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil
	}
	return e
}

func (q *queue) len() int {
	return len(q.entries)
}

func (q *queue) empty() bool {
	return len(q.entries) == 0
}

// takeAll empties the queue and returns what it held.
func (q *queue) takeAll() []*entry {
	all := q.entries
	q.entries = nil
	return all
}
