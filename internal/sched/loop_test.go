package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopAfterFires(t *testing.T) {
	l := NewLoop()
	defer l.Close()
	go l.Run()

	done := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoopCancelSuppressesFire(t *testing.T) {
	l := NewLoop()
	defer l.Close()
	go l.Run()

	fired := make(chan struct{}, 1)
	id := l.After(20*time.Millisecond, func() { fired <- struct{}{} })
	l.Cancel(id)

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopEveryRepeats(t *testing.T) {
	l := NewLoop()
	defer l.Close()
	go l.Run()

	counts := make(chan struct{}, 8)
	id := l.Every(5*time.Millisecond, func() { counts <- struct{}{} })

	for i := 0; i < 3; i++ {
		select {
		case <-counts:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
	l.Cancel(id)
}

func TestLoopOrdersEarliestDeadlineFirst(t *testing.T) {
	l := NewLoop()
	defer l.Close()
	go l.Run()

	var order []int
	done := make(chan struct{})
	mark := func(n int) func() {
		return func() {
			order = append(order, n)
			if n == 2 {
				close(done)
			}
		}
	}

	l.After(30*time.Millisecond, mark(2))
	l.After(5*time.Millisecond, mark(0))
	l.After(15*time.Millisecond, mark(1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timers never completed")
	}

	require.Equal(t, []int{0, 1, 2}, order)
}
