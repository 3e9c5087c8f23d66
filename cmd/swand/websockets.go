package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// websocket serves a connection that receives every update and every
// op (with its results) that the service processes.  The client can
// send SOps, whose results arrive like any other op.
//
// Every connection sees everything.
func (s *Service) websocket(ctx context.Context) http.HandlerFunc {
	var upgrader = websocket.Upgrader{} // use default options

	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.Logger.Warn("websocket upgrade", "err", err)
			return
		}
		defer c.Close()

		out := s.hub.subscribe(32)
		defer s.hub.unsubscribe(out)

		done := make(chan struct{})
		defer close(done)

		go func() {
			for {
				select {
				case <-done:
					return
				case <-ctx.Done():
					c.Close()
					return
				case x := <-out:
					js, err := json.Marshal(x)
					if err != nil {
						s.Logger.Warn("websocket marshal", "err", err, "msg", fmt.Sprintf("%#v", x))
						continue
					}
					if err = c.WriteMessage(websocket.TextMessage, js); err != nil {
						s.Logger.Debug("websocket write", "err", err)
					}
				}
			}
		}()

		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				s.Logger.Debug("websocket read", "err", err)
				return
			}

			var op SOp
			if err := json.Unmarshal(message, &op); err != nil {
				select {
				case out <- map[string]string{"error": fmt.Sprintf("can't parse: %v", err)}:
				default:
				}
				continue
			}
			if err = op.Do(ctx, s); err != nil {
				// The op itself carries the error to the client.
				s.Logger.Debug("websocket op", "err", err)
			}
		}
	}
}
