package dashboard

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
)

const streamSinkCapacity = 256

// handleStream upgrades to a websocket and replays the selected window
// live, paced by the replay engine. Query params: the usual selection
// set plus speed (float) and max_speed (bool).
func (s *State) handleStream(w http.ResponseWriter, r *http.Request) {
	query := parseQuery(r, defaultSeriesLimit)
	selected := selectEvents(s.events, query)

	cfg := replay.DefaultConfig()
	if raw := r.URL.Query().Get("speed"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.Speed = v
		}
	}
	if r.URL.Query().Get("max_speed") == "true" {
		cfg.MaxSpeed = true
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("stream accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sink := make(chan event.Event, streamSinkCapacity)
	go func() {
		defer close(sink)
		replay.StreamWithPacing(ctx, selected, cfg, sink)
	}()

	for ev := range sink {
		if err := wsjson.Write(ctx, conn, toRow(ev)); err != nil {
			// Consumer gone; the context cancels the pacer on return.
			return
		}
	}

	_ = conn.Close(websocket.StatusNormalClosure, "replay complete")
}
