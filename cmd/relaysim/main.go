// Command relaysim is a local fake relay for developing against pairgate
// without a real messaging network account.
// Usage: go run ./cmd/relaysim [addr]
//
// It speaks the relay wire protocol: on hello it issues a challenge (or
// accepts stored credentials immediately), waits a moment, then sends creds
// and open frames. Sessions never log out unless the client disconnects.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type frame struct {
	Type        string          `json:"type"`
	Client      string          `json:"client,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	RequestCode bool            `json:"request_code,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
	QR          string          `json:"qr,omitempty"`
	PairCode    string          `json:"pair_code,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Logout      bool            `json:"logout,omitempty"`
	To          string          `json:"to,omitempty"`
	Body        string          `json:"body,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := "127.0.0.1:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	http.HandleFunc("/ws", handleSession)

	fmt.Printf("Fake relay listening on ws://%s/ws\n", addr)
	fmt.Println("Point pairgate at it with: pairgate serve --upstream-url ws://" + addr + "/ws")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("relaysim: %v", err)
	}
}

func handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relaysim: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		log.Printf("relaysim: expected hello frame, got %v (err: %v)", hello.Type, err)
		return
	}
	log.Printf("relaysim: hello from client=%q owner=%q creds=%v request_code=%v",
		hello.Client, hello.Owner, len(hello.Credentials) > 0, hello.RequestCode)

	// Stored credentials skip the challenge, matching a real relink.
	if len(hello.Credentials) == 0 {
		challenge := frame{Type: "challenge"}
		if hello.RequestCode {
			challenge.PairCode = "TBGW9472"
		} else {
			challenge.QR = fmt.Sprintf("2@%s,%s", uuid.New().String(), uuid.New().String())
		}
		if err := conn.WriteJSON(challenge); err != nil {
			return
		}

		// Simulate the user scanning/entering the code.
		time.Sleep(2 * time.Second)

		creds, _ := json.Marshal(map[string]string{
			"id":     uuid.New().String(),
			"issued": time.Now().Format(time.RFC3339),
		})
		if err := conn.WriteJSON(frame{Type: "creds", Credentials: creds}); err != nil {
			return
		}
	}

	if err := conn.WriteJSON(frame{Type: "open"}); err != nil {
		return
	}
	log.Printf("relaysim: session open for client=%q", hello.Client)

	// Echo send frames until the client goes away.
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Printf("relaysim: client disconnected: %v", err)
			return
		}
		if f.Type == "send" {
			log.Printf("relaysim: message to=%q body=%q", f.To, f.Body)
		}
	}
}
