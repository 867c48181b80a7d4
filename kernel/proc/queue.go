package proc

// Queue is a FIFO of processes threaded through their intrusive link. A
// process sits in at most one Queue at a time; Push refuses one that is
// already linked.
//
// The zero value is an empty queue. NOT thread-safe.
type Queue struct {
	head, tail *Process
	n          int
}

// Push appends p and reports whether it was added.
func (q *Queue) Push(p *Process) bool {
	if p == nil || p.queued {
		return false
	}
	p.next = nil
	p.queued = true
	if q.tail == nil {
		q.head = p
	} else {
		q.tail.next = p
	}
	q.tail = p
	q.n++
	return true
}

// Pop unlinks and returns the head, or nil when empty.
func (q *Queue) Pop() *Process {
	p := q.head
	if p == nil {
		return nil
	}
	q.head = p.next
	if q.head == nil {
		q.tail = nil
	}
	p.next = nil
	p.queued = false
	q.n--
	return p
}

// Remove unlinks p and reports whether it was in q.
func (q *Queue) Remove(p *Process) bool {
	if p == nil || !p.queued {
		return false
	}
	var prev *Process
	for cur := q.head; cur != nil; prev, cur = cur, cur.next {
		if cur != p {
			continue
		}
		if prev == nil {
			q.head = cur.next
		} else {
			prev.next = cur.next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.next = nil
		cur.queued = false
		q.n--
		return true
	}
	return false
}

// Clear unlinks every process.
func (q *Queue) Clear() {
	for p := q.head; p != nil; {
		next := p.next
		p.next = nil
		p.queued = false
		p = next
	}
	q.head, q.tail, q.n = nil, nil, 0
}

// Len returns the number of queued processes.
func (q *Queue) Len() int { return q.n }

// Head returns the first process without unlinking it.
func (q *Queue) Head() *Process { return q.head }

// Slice returns the queue from head to tail.
func (q *Queue) Slice() []*Process {
	out := make([]*Process, 0, q.n)
	for p := q.head; p != nil; p = p.next {
		out = append(out, p)
	}
	return out
}
