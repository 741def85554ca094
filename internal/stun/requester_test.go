package stun

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudoconf/icertc/internal/sched"
)

func TestRequesterSucceedsOnFirstResponse(t *testing.T) {
	loop := sched.NewLoop()
	defer loop.Close()
	go loop.Run()

	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	req := NewBindingRequest()

	var sent int
	sendCh := make(chan *Message, 4)
	resultCh := make(chan error, 1)

	r := NewRequester(loop, DefaultSchedule(), dest, req,
		func(_ net.Addr, msg *Message) error {
			sent++
			sendCh <- msg
			return nil
		},
		func(resp *Message, err error) { resultCh <- err },
	)

	loop.Post(r.Start)

	var first *Message
	select {
	case first = <-sendCh:
	case <-time.After(time.Second):
		t.Fatal("requester never sent the initial request")
	}
	require.Equal(t, req.TransactionID, first.TransactionID)

	resp := NewBindingSuccessResponse(req.TransactionID, dest, "")
	loop.Post(func() { r.HandleResponse(resp) })

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("requester never completed")
	}
}

func TestRequesterRetransmitsThenTimesOut(t *testing.T) {
	loop := sched.NewLoop()
	defer loop.Close()
	go loop.Run()

	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	req := NewBindingRequest()

	sendCh := make(chan struct{}, 8)
	resultCh := make(chan error, 1)

	schedule := Schedule{RTO: 10 * time.Millisecond, Rc: 2, Rm: 4}
	r := NewRequester(loop, schedule, dest, req,
		func(_ net.Addr, _ *Message) error {
			sendCh <- struct{}{}
			return nil
		},
		func(_ *Message, err error) { resultCh <- err },
	)

	loop.Post(r.Start)

	// Expect the initial send plus 2 retransmissions before timeout.
	for i := 0; i < 3; i++ {
		select {
		case <-sendCh:
		case <-time.After(time.Second):
			t.Fatalf("send %d never happened", i)
		}
	}

	select {
	case err := <-resultCh:
		require.True(t, errors.Is(err, ErrRequestTimedOut), "got %v, want ErrRequestTimedOut", err)
	case <-time.After(time.Second):
		t.Fatal("requester never timed out")
	}
}

func TestRequesterCancelSuppressesResult(t *testing.T) {
	loop := sched.NewLoop()
	defer loop.Close()
	go loop.Run()

	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	req := NewBindingRequest()

	resultCh := make(chan error, 1)
	r := NewRequester(loop, DefaultSchedule(), dest, req,
		func(net.Addr, *Message) error { return nil },
		func(_ *Message, err error) { resultCh <- err },
	)

	loop.Post(r.Start)
	r.Cancel()

	select {
	case <-resultCh:
		t.Fatal("onResult fired after Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}
