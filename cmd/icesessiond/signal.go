package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// hello is the only message this demo's signaling protocol ever exchanges:
// everything ICE/RUDP need to get started, traded once in each direction.
// Trickle ICE, renegotiation, and anything resembling SDP are all out of
// scope for a harness whose only job is to get two endpoints talking to
// each other.
type hello struct {
	UFrag    string `json:"ufrag"`
	Password string `json:"password"`
	Addr     string `json:"addr"`
}

// listenAndExchange runs a one-shot HTTP+websocket server on port, accepts
// exactly one connection, and trades local for the peer's hello. Grounded
// on internal/signaling/local.go's localWebSignaler, reduced to a single
// request/response instead of a full SessionHandler-driven server.
func listenAndExchange(port int, local hello) (hello, error) {
	var remote hello
	result := make(chan error, 1)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		defer ws.Close()

		if err := ws.ReadJSON(&remote); err != nil {
			result <- errors.Wrap(err, "reading peer hello")
			return
		}
		if err := ws.WriteJSON(local); err != nil {
			result <- errors.Wrap(err, "sending local hello")
			return
		}
		result <- nil
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go server.ListenAndServe()
	defer server.Close()

	log.Info("waiting for peer on :%d/ws", port)
	if err := <-result; err != nil {
		return hello{}, err
	}
	return remote, nil
}

// dialAndExchange connects to a peer already running listenAndExchange,
// sends local first, and returns what it sends back.
func dialAndExchange(rawURL string, local hello) (hello, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return hello{}, err
	}

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return hello{}, errors.Wrapf(err, "dialing %s", rawURL)
	}
	defer ws.Close()

	if err := ws.WriteJSON(local); err != nil {
		return hello{}, errors.Wrap(err, "sending local hello")
	}

	var remote hello
	if err := ws.ReadJSON(&remote); err != nil {
		return hello{}, errors.Wrap(err, "reading peer hello")
	}
	return remote, nil
}
