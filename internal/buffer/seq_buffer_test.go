package buffer

import (
	"sync"
	"testing"
	"time"

	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestSeqBuffer_Lifecycle(t *testing.T) {
	buf := NewSeqBuffer(3)

	msgs, ok := buf.Since(0)
	if !ok || len(msgs) != 0 {
		t.Error("empty buffer should return nothing and ok=true")
	}

	buf.Add(v1.Message{Seq: 1})
	buf.Add(v1.Message{Seq: 2})
	buf.Add(v1.Message{Seq: 3})

	// 0 -> 1 is contiguous
	msgs, ok = buf.Since(0)
	if !ok || len(msgs) != 3 {
		t.Fatalf("Since(0) = %d msgs, ok=%v; want 3, true", len(msgs), ok)
	}

	// wrap: logical [2, 3, 4]
	buf.Add(v1.Message{Seq: 4})

	if _, ok = buf.Since(0); ok {
		t.Error("Since(0) should fail once seq 1 is overwritten")
	}

	msgs, ok = buf.Since(1)
	if !ok || len(msgs) != 3 {
		t.Errorf("Since(1) = %d msgs, ok=%v; want 3, true", len(msgs), ok)
	}

	msgs, ok = buf.Since(2)
	if !ok {
		t.Fatal("Since(2) should be valid")
	}
	if len(msgs) != 2 || msgs[0].Seq != 3 || msgs[1].Seq != 4 {
		t.Errorf("expected [3, 4], got %+v", msgs)
	}

	msgs, ok = buf.Since(4)
	if !ok || len(msgs) != 0 {
		t.Errorf("Since(4) should be empty and valid, got %d, %v", len(msgs), ok)
	}
}

func TestSeqBuffer_Concurrency(t *testing.T) {
	buf := NewSeqBuffer(1000)
	done := make(chan struct{})
	count := 5000

	go func() {
		for i := 1; i <= count; i++ {
			buf.Add(v1.Message{Seq: int64(i)})
		}
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			timeout := time.After(5 * time.Second)
			for {
				select {
				case <-done:
					return
				case <-timeout:
					t.Error("test timed out")
					return
				default:
					msgs, ok := buf.Since(last)
					if !ok {
						// listener fell behind, start from the newest
						continue
					}
					for _, m := range msgs {
						if m.Seq <= last {
							t.Errorf("seq went backwards: %d after %d", m.Seq, last)
							return
						}
						last = m.Seq
					}
				}
			}
		}()
	}
	wg.Wait()
}
