package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/johndosdos/supportchat/internal/clock"
)

func TestLedgerSeen(t *testing.T) {
	l := New()

	assert.False(t, l.Seen("m1"))
	l.MarkSeen("m1")
	assert.True(t, l.Seen("m1"))
	assert.False(t, l.Seen("m2"))

	// Marking again must not grow the ledger.
	l.MarkSeen("m1")
	assert.Equal(t, 1, l.Len())
}

func TestLedgerEmptyID(t *testing.T) {
	l := New()

	l.MarkSeen("")
	assert.False(t, l.Seen(""))
	assert.Equal(t, 0, l.Len())

	for range 3 {
		assert.True(t, l.Admit(""), "messages without id are always admitted")
	}
}

func TestLedgerAdmit(t *testing.T) {
	l := New()

	assert.True(t, l.Admit("m1"))
	assert.False(t, l.Admit("m1"))
	assert.True(t, l.Seen("m1"))
}

func TestLedgerCapacity(t *testing.T) {
	l := New(WithCapacity(3))

	for i := range 5 {
		l.MarkSeen(fmt.Sprintf("m%d", i))
	}

	assert.Equal(t, 3, l.Len())
	assert.False(t, l.Seen("m0"))
	assert.False(t, l.Seen("m1"))
	for _, id := range []string{"m2", "m3", "m4"} {
		assert.True(t, l.Seen(id), id)
	}
}

func TestLedgerRetention(t *testing.T) {
	c := clock.Fake(time.Unix(1000, 0))
	l := New(WithRetention(time.Minute), WithClock(c))

	l.MarkSeen("old")
	c.Advance(30 * time.Second)
	l.MarkSeen("new")

	c.Advance(31 * time.Second)
	assert.False(t, l.Seen("old"))
	assert.True(t, l.Seen("new"))
	assert.Equal(t, 1, l.Len())
}

func TestLedgerReset(t *testing.T) {
	l := New(WithCapacity(2))
	l.MarkSeen("a")
	l.MarkSeen("b")

	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Seen("a"))

	l.MarkSeen("c")
	l.MarkSeen("d")
	l.MarkSeen("e")
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Seen("e"))
}

func TestLedgerConcurrentAdmit(t *testing.T) {
	l := New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("same") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
}
