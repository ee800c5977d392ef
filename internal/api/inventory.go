package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/rxdesk/internal/inventory"
	"github.com/kalambet/rxdesk/internal/query"
	"github.com/kalambet/rxdesk/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Any origin; the session token is checked before upgrade.
		return true
	},
}

// StockMessage is one frame of the stock feed.
type StockMessage struct {
	WarehouseID string           `json:"warehouse_id"`
	Levels      inventory.Levels `json:"levels"`
	Loading     bool             `json:"loading,omitempty"`
	Error       string           `json:"error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func stockMessage(warehouseID string, e query.Entry) StockMessage {
	msg := StockMessage{WarehouseID: warehouseID, Loading: e.IsLoading, UpdatedAt: e.LastFetch}
	if levels, ok := query.Value[inventory.Levels](e); ok {
		msg.Levels = levels
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

func handleListProducts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 1000)
		products, err := deps.Store.ListProducts(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list products: %v", err)
			return
		}
		if products == nil {
			products = []storage.Product{}
		}
		writeJSON(w, http.StatusOK, products)
	}
}

func handleStockLevels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wh := chi.URLParam(r, "warehouse")
		levels, err := deps.Projection.Levels(r.Context(), wh)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load stock: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, StockMessage{WarehouseID: wh, Levels: levels, UpdatedAt: time.Now().UTC()})
	}
}

// handleStockStream upgrades to a websocket and pushes the warehouse's
// levels on every change of the cached projection.
func handleStockStream(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wh := chi.URLParam(r, "warehouse")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := deps.Projection.Subscribe(r.Context(), wh)
		defer sub.Close()

		// Drain client frames so pongs and close messages are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadLimit(512)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		send := func() bool {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(stockMessage(wh, sub.Snapshot())) == nil
		}
		if !send() {
			return
		}
		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-sub.Changes():
				if !send() {
					deps.Logger.Debug("stock stream closed", "warehouse", wh)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
