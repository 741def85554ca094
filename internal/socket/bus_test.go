package socket

import (
	"net"
	"testing"
	"time"
)

func TestBusDeliversBetweenEndpoints(t *testing.T) {
	bus := NewBus()
	a, err := bus.NewEndpoint(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000})
	if err != nil {
		t.Fatalf("NewEndpoint a: %v", err)
	}
	defer a.Close()
	b, err := bus.NewEndpoint(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2000})
	if err != nil {
		t.Fatalf("NewEndpoint b: %v", err)
	}
	defer b.Close()

	if _, err := a.WriteTo([]byte("hello"), b.LocalAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	buf := make([]byte, 64)
	type result struct {
		n    int
		addr net.Addr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		n, _, addr, err := b.ReadFrom(buf)
		done <- result{n, addr, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("ReadFrom: %v", r.err)
		}
		if string(buf[:r.n]) != "hello" {
			t.Fatalf("got %q, want %q", buf[:r.n], "hello")
		}
		if r.addr.String() != a.LocalAddr().String() {
			t.Fatalf("got from %s, want %s", r.addr, a.LocalAddr())
		}
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}
}

func TestBusWriteToUnknownEndpointFails(t *testing.T) {
	bus := NewBus()
	a, err := bus.NewEndpoint(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1000})
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	defer a.Close()

	_, err = a.WriteTo([]byte("x"), &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 9999})
	if err == nil {
		t.Fatal("expected an error writing to an unregistered endpoint")
	}
}

func TestRouterRegisterAndLookup(t *testing.T) {
	r := NewRouter()
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5000}

	if _, ok := r.Lookup(addr); ok {
		t.Fatal("Lookup found a session before Register")
	}

	r.Register(42, addr)
	id, ok := r.Lookup(addr)
	if !ok || id != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", id, ok)
	}

	r.Deregister(42)
	if _, ok := r.Lookup(addr); ok {
		t.Fatal("Lookup still found a session after Deregister")
	}
}

func TestRouterReregisterMovesID(t *testing.T) {
	r := NewRouter()
	first := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5000}
	second := &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 5001}

	r.Register(1, first)
	r.Register(1, second)

	if _, ok := r.Lookup(first); ok {
		t.Fatal("stale address mapping was not cleared on re-register")
	}
	if id, ok := r.Lookup(second); !ok || id != 1 {
		t.Fatalf("got (%d, %v), want (1, true)", id, ok)
	}
}
