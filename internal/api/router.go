// Package api exposes a small HTTP surface over the position engine:
// read-only position and price queries, plus a manual exit endpoint for
// operator intervention.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"optionsbot-v1/internal/engine"
	"optionsbot-v1/internal/model"
)

// NewRouter sets up the HTTP routes over the engine.
func NewRouter(eng *engine.Engine) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// GET /api/v1/positions — all cached positions
	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		snap := eng.ActivePositions()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":     len(snap),
			"positions": snap,
		})
	})

	// GET /api/v1/positions/{trackerID} — one position with its P&L snapshot
	mux.HandleFunc("/api/v1/positions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		trackerID := strings.TrimPrefix(r.URL.Path, "/api/v1/positions/")
		if trackerID == "" {
			writeError(w, http.StatusBadRequest, "tracker id required")
			return
		}
		pos, ok := eng.GetByTrackerID(trackerID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown tracker id")
			return
		}
		pnl, err := eng.FetchPnl(r.Context(), trackerID)
		if err != nil {
			log.Printf("[api] pnl fetch for %s: %v", trackerID, err)
		}
		writeJSON(w, http.StatusOK, positionResponse{Position: pos, Pnl: pnl})
	})

	// GET /api/v1/ltp?exchange=NFO&token=43125 — latest cached price
	mux.HandleFunc("/api/v1/ltp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		exchange := r.URL.Query().Get("exchange")
		token := r.URL.Query().Get("token")
		if exchange == "" || token == "" {
			writeError(w, http.StatusBadRequest, "exchange and token required")
			return
		}
		ltp, ok := eng.LTP(r.Context(), exchange, token)
		if !ok {
			writeError(w, http.StatusNotFound, "no tick seen for instrument")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"exchange": exchange,
			"token":    token,
			"ltp":      ltp,
		})
	})

	// POST /api/v1/exit/{trackerID} — operator-initiated exit
	mux.HandleFunc("/api/v1/exit/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}
		trackerID := strings.TrimPrefix(r.URL.Path, "/api/v1/exit/")
		if trackerID == "" {
			writeError(w, http.StatusBadRequest, "tracker id required")
			return
		}
		res := eng.ExecuteExit(r.Context(), trackerID, "manual")
		switch {
		// NoOp results also carry Success, so check NoOp first.
		case res.NoOp:
			writeError(w, http.StatusConflict, "position not active")
		case res.Success:
			log.Printf("[api] manual exit %s filled at %d (order %s)", trackerID, res.FillPrice, res.OrderID)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"order_id":   res.OrderID,
				"fill_price": res.FillPrice,
			})
		default:
			log.Printf("[api] manual exit %s failed: %v", trackerID, res.Err)
			writeError(w, http.StatusBadGateway, "exit submission failed")
		}
	})

	return mux
}

type positionResponse struct {
	Position model.PositionState `json:"position"`
	Pnl      *model.PnlSnapshot  `json:"pnl,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
