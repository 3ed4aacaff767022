package buffer

import (
	"sort"
	"sync"

	v1 "tillsync/pkg/api/v1"
)

// SeqBuffer is a fixed-size ring of the most recent broadcasts, used to
// replay what a reconnecting listener missed.
type SeqBuffer struct {
	mu       sync.RWMutex
	messages []v1.Message
	size     int
	head     int
	isFull   bool
}

func NewSeqBuffer(size int) *SeqBuffer {
	if size <= 0 {
		size = 1000
	}
	return &SeqBuffer{
		messages: make([]v1.Message, size),
		size:     size,
	}
}

// Add appends msg. Seq must increase by one per call.
func (b *SeqBuffer) Add(msg v1.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages[b.head] = msg
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// Since returns messages with Seq > lastSeq. ok is false when messages after
// lastSeq were already overwritten and the listener has to reset.
func (b *SeqBuffer) Since(lastSeq int64) ([]v1.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}
	if count == 0 {
		return nil, true
	}

	oldest := b.messages[start].Seq
	if lastSeq+1 < oldest {
		return nil, false
	}

	// logical index i lives at (start + i) % size
	idx := sort.Search(count, func(i int) bool {
		return b.messages[(start+i)%b.size].Seq > lastSeq
	})
	if idx == count {
		return nil, true
	}

	result := make([]v1.Message, 0, count-idx)
	for i := idx; i < count; i++ {
		result = append(result, b.messages[(start+i)%b.size])
	}
	return result, true
}
