package runner

import (
	"fmt"
	"sync"
)

const (
	defaultOutputHeadBytes = 64 * 1024   // first bytes of a stream, where the raised error lands
	defaultOutputTailBytes = 1024 * 1024 // 1MB rolling tail kept in memory per stream
)

// outputBuffer keeps the first headBytes and the last tailBytes written to it,
// so a host that floods its output cannot exhaust memory while the error it
// raised first is still reported.
type outputBuffer struct {
	headBytes int
	tailBytes int

	mu     sync.Mutex
	total  int64
	head   []byte
	tail   []byte // view into window
	window []byte
}

func newOutputBuffer(headBytes, tailBytes int) *outputBuffer {
	if headBytes <= 0 {
		headBytes = defaultOutputHeadBytes
	}
	if tailBytes <= 0 {
		tailBytes = defaultOutputTailBytes
	}
	return &outputBuffer{headBytes: headBytes, tailBytes: tailBytes}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += int64(n)
	if room := b.headBytes - len(b.head); room > 0 {
		k := min(room, len(p))
		b.head = append(b.head, p[:k]...)
		p = p[k:]
	}
	if len(p) > 0 {
		b.appendTail(p)
	}
	return n, nil
}

// appendTail adds p to the rolling tail. The tail lives in a window of twice
// its size and is only moved back to the start of the window when the window
// is full, so each byte is copied a bounded number of times.
func (b *outputBuffer) appendTail(p []byte) {
	if len(p) >= b.tailBytes {
		p = p[len(p)-b.tailBytes:]
		b.tail = b.tail[:0]
	}
	if len(b.tail)+len(p) > cap(b.tail) {
		keep := b.tail
		if excess := len(keep) + len(p) - b.tailBytes; excess > 0 {
			keep = keep[excess:]
		}
		if b.window == nil {
			b.window = make([]byte, 0, 2*b.tailBytes)
		}
		b.tail = append(b.window[:0], keep...)
	}
	b.tail = append(b.tail, p...)
	if excess := len(b.tail) - b.tailBytes; excess > 0 {
		b.tail = b.tail[excess:]
	}
}

// Head returns the first bytes written, up to headBytes.
func (b *outputBuffer) Head() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.head)
}

func (b *outputBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *outputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped() > 0
}

func (b *outputBuffer) dropped() int64 {
	return b.total - int64(len(b.head)+len(b.tail))
}

// String returns the retained output, with a marker between head and tail
// when the middle was dropped.
func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dropped := b.dropped(); dropped > 0 {
		return fmt.Sprintf("%s\n[... %d bytes truncated ...]\n%s", b.head, dropped, b.tail)
	}
	return string(b.head) + string(b.tail)
}
