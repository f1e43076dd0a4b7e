package broker

// workQueue is a per-session FIFO of outstanding work items.
// It is not safe for concurrent use; the owning Session serialises access.
type workQueue struct {
	items []*WorkItem
}

func (q *workQueue) enqueue(item *WorkItem) {
	q.items = append(q.items, item)
}

// dequeueNext pops the oldest item, or returns nil when empty.
func (q *workQueue) dequeueNext() *WorkItem {
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Release the backing array once drained.
		q.items = nil
	}
	return item
}

// remove deletes the item with requestID, preserving order of the rest.
func (q *workQueue) remove(requestID string) bool {
	for i, item := range q.items {
		if item.RequestID == requestID {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return true
		}
	}
	return false
}

func (q *workQueue) contains(requestID string) bool {
	for _, item := range q.items {
		if item.RequestID == requestID {
			return true
		}
	}
	return false
}

func (q *workQueue) len() int {
	return len(q.items)
}
