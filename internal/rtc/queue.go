package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// candidateQueue buffers remote ICE candidates that arrive before the peer
// link has a remote description. One queue per link, created with it and
// discarded with it.
type candidateQueue struct {
	mu    sync.Mutex
	items []webrtc.ICECandidateInit
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{}
}

func (q *candidateQueue) Push(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

func (q *candidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain applies every queued candidate in arrival order and empties the
// queue. A candidate that fails to apply is dropped on its own; the rest of
// the queue still drains.
func (q *candidateQueue) Drain(apply func(webrtc.ICECandidateInit) error) (applied int) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, c := range items {
		if err := apply(c); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("dropping queued candidate")
			continue
		}
		applied++
	}
	return applied
}
