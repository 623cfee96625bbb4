package gc

import "fmt"

// DeletionQueue is the supplemented background-deletion mechanism
// (`unlinked_deletion`/`n_bg_deletions`/`yaffs_handle_defered_free` in the
// original): unlinked objects with no remaining references are queued here
// rather than torn down inline on unlink, so a large unlink doesn't stall
// the caller. fs.Device.DrainOneDeletion drains it under the gross lock,
// one object per call.
type DeletionQueue struct {
	pending chan uint32
	drained uint64
}

// NewDeletionQueue creates a queue with room for capacity pending obj_ids.
func NewDeletionQueue(capacity int) *DeletionQueue {
	return &DeletionQueue{pending: make(chan uint32, capacity)}
}

// Enqueue schedules objID for deferred deletion. It returns an error if the
// queue is full, signaling the caller should fall back to deleting inline.
func (q *DeletionQueue) Enqueue(objID uint32) error {
	select {
	case q.pending <- objID:
		return nil
	default:
		return fmt.Errorf("gc: deletion queue full, cannot defer obj_id %d", objID)
	}
}

// DrainOne pops a single pending obj_id, if any, for the caller to finish
// tearing down. ok is false when the queue is currently empty.
func (q *DeletionQueue) DrainOne() (objID uint32, ok bool) {
	select {
	case id := <-q.pending:
		q.drained++
		return id, true
	default:
		return 0, false
	}
}

// Len reports how many deletions are currently queued.
func (q *DeletionQueue) Len() int { return len(q.pending) }

// Drained reports the total count of deletions completed over the queue's
// lifetime, backing the engine's n_bg_deletions statistic.
func (q *DeletionQueue) Drained() uint64 { return q.drained }
