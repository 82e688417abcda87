package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// handleRTCSubscribe upgrades to a websocket and pushes the requested
// slot once it shows up in the store, saving the client from polling.
// The store is polled server-side instead; no state lives in the relay.
func handleRTCSubscribe(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	roomID := r.URL.Query().Get("roomId")
	slot := r.URL.Query().Get("slot")
	if roomID == "" || (slot != "offer" && slot != "answer") {
		respondJSON(w, http.StatusBadRequest, respError{Error: "roomId and slot=offer|answer are required"})
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}
	go watchSlot(app, ws, roomID, slot)
}

// watchSlot polls the store until the slot appears or the room TTL
// window has passed, sends one message, and closes. A null value means
// the wait ran out.
func watchSlot(app *App, ws *websocket.Conn, roomID, slot string) {
	defer ws.Close()

	read := app.relay.ReadOffer
	if slot == "answer" {
		read = app.relay.ReadAnswer
	}

	var (
		t        = time.NewTicker(app.cfg.SubscribePoll)
		deadline = time.Now().Add(app.relay.TTL())
	)
	defer t.Stop()

	for {
		if v, ok := read(roomID); ok {
			ws.WriteJSON(map[string]*string{slot: &v})
			return
		}
		if time.Now().After(deadline) {
			ws.WriteJSON(map[string]*string{slot: nil})
			return
		}
		<-t.C
	}
}
