package peer

import "github.com/pion/webrtc/v3"

// CandidateQueue buffers remote candidates received before the remote description.
// It is owned by a single goroutine and is not safe for concurrent use.
type CandidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *CandidateQueue) Push(c webrtc.ICECandidateInit) {
	q.items = append(q.items, c)
}

func (q *CandidateQueue) Len() int {
	return len(q.items)
}

// Drain hands every buffered candidate to apply in arrival order and empties the queue.
// A failing candidate does not stop the drain; its error is returned with the others.
func (q *CandidateQueue) Drain(apply func(webrtc.ICECandidateInit) error) []error {
	items := q.items
	q.items = nil

	var errs []error
	for _, c := range items {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
