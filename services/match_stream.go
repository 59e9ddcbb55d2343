package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StreamMatchSSE streams match snapshots to a participant over SSE. The
// handler subscribes to the lifecycle channel and forwards every transition;
// the stream closes itself once the match reaches a terminal status.
func (s *MatchService) StreamMatchSSE(c *fiber.Ctx) error {
	matchID := c.Params("id")
	playerID, _ := c.Locals("player_id").(string)

	match, err := s.Store.GetMatch(c.Context(), matchID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
	}
	if playerID != "" && match.Participant(playerID) == nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant"})
	}

	ch, cancel := s.Subscribe(matchID)

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	initial := *match
	done := c.Context().Done()

	// fasthttp stream writer replaces Flush
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		writeSnapshot := func(snap any) bool {
			payload, _ := json.Marshal(snap)
			fmt.Fprintf(w, "event: match\ndata: %s\n\n", payload)
			return w.Flush() == nil
		}

		if !writeSnapshot(initial) {
			return
		}
		if initial.Status.Terminal() {
			return
		}

		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				if !writeSnapshot(snap) {
					return // client disconnected
				}
				if snap.Status.Terminal() {
					return
				}
			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	return nil
}
