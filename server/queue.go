package server

import "walkaround/wire"

// QueuePosition 排队会话及其 1 起始的位置
type QueuePosition struct {
	ID       wire.ConnID
	Position int
}

// AdmissionQueue 严格 FIFO 的准入队列，不做并发保护（仅由协调器协程访问）
type AdmissionQueue struct {
	ids     []wire.ConnID
	members map[wire.ConnID]struct{}
}

func NewAdmissionQueue() *AdmissionQueue {
	return &AdmissionQueue{members: make(map[wire.ConnID]struct{})}
}

// Enqueue 追加到队尾；已在队列中则忽略
func (q *AdmissionQueue) Enqueue(id wire.ConnID) bool {
	if _, ok := q.members[id]; ok {
		return false
	}
	q.members[id] = struct{}{}
	q.ids = append(q.ids, id)
	return true
}

// Remove 从任意位置移除，返回是否存在
func (q *AdmissionQueue) Remove(id wire.ConnID) bool {
	if _, ok := q.members[id]; !ok {
		return false
	}
	delete(q.members, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

// DrainToCapacity 当 current+已弹出数 < limit 时从队首弹出，按顺序返回
func (q *AdmissionQueue) DrainToCapacity(current, limit int) []wire.ConnID {
	n := limit - current
	if n <= 0 || len(q.ids) == 0 {
		return nil
	}
	if n > len(q.ids) {
		n = len(q.ids)
	}
	popped := make([]wire.ConnID, n)
	copy(popped, q.ids[:n])
	q.ids = append(q.ids[:0], q.ids[n:]...)
	for _, id := range popped {
		delete(q.members, id)
	}
	return popped
}

// Position 1 起始；不在队列中返回 0
func (q *AdmissionQueue) Position(id wire.ConnID) int {
	if _, ok := q.members[id]; !ok {
		return 0
	}
	for i, v := range q.ids {
		if v == id {
			return i + 1
		}
	}
	return 0
}

// Positions 当前队列快照
func (q *AdmissionQueue) Positions() []QueuePosition {
	out := make([]QueuePosition, len(q.ids))
	for i, id := range q.ids {
		out[i] = QueuePosition{ID: id, Position: i + 1}
	}
	return out
}

func (q *AdmissionQueue) Contains(id wire.ConnID) bool {
	_, ok := q.members[id]
	return ok
}

func (q *AdmissionQueue) Len() int { return len(q.ids) }
