package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"travel-chat/internal/chat"
	"travel-chat/internal/user"
)

var (
	baseURL   = pflag.String("url", "http://localhost:8080", "server base URL")
	pairCount = pflag.Int("pairs", 50, "number of user pairs (start small, the database might choke on 1000 immediately)")
	msgCount  = pflag.Int("messages", 20, "messages per user")
	interval  = pflag.Duration("interval", 10*time.Millisecond, "pause between sends")
	password  = "password123"
)

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	pflag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	logger.Info("starting stress test", "users", *pairCount*2, "messages_per_user", *msgCount)
	start := time.Now()

	var st stats
	var wg sync.WaitGroup

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID, &st); err != nil {
				st.failed.Add(1)
				logger.Warn("pair failed", "pair", pairID, "err", err)
			}
		}(i)
	}

	wg.Wait()
	logger.Info("load test complete",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"sent", st.sent.Load(),
		"received", st.received.Load(),
		"failed_pairs", st.failed.Load(),
	)
}

func runPair(pairID int, st *stats) error {
	runID := time.Now().Unix()
	a, err := authenticate(fmt.Sprintf("lt-%d-%d-a@example.com", runID, pairID), fmt.Sprintf("Load A%d", pairID))
	if err != nil {
		return err
	}
	b, err := authenticate(fmt.Sprintf("lt-%d-%d-b@example.com", runID, pairID), fmt.Sprintf("Load B%d", pairID))
	if err != nil {
		return err
	}

	roomID, err := chat.RoomID(a.User.ID, b.User.ID)
	if err != nil {
		return err
	}

	connA, err := connect(a.AccessToken, roomID)
	if err != nil {
		return err
	}
	defer connA.Close()
	connB, err := connect(b.AccessToken, roomID)
	if err != nil {
		return err
	}
	defer connB.Close()

	var wg sync.WaitGroup
	wg.Add(4)
	go spamChat(&wg, connA, b.User.ID, st)
	go spamChat(&wg, connB, a.User.ID, st)
	go drain(&wg, connA, st)
	go drain(&wg, connB, st)
	wg.Wait()
	return nil
}

// authenticate registers (ignoring conflicts) and logs in.
func authenticate(email, name string) (*user.LoginResponse, error) {
	resp, err := postJSON("/api/register", user.RegisterRequest{Email: email, Name: name, Password: password})
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	resp, err = postJSON("/api/login", user.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", email, resp.StatusCode)
	}

	var data user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func connect(token, roomID string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect: %w", err)
	}

	data, _ := json.Marshal(chat.RoomRequest{RoomID: roomID})
	if err := conn.WriteJSON(chat.Envelope{Event: chat.EventJoin, Data: data}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func spamChat(wg *sync.WaitGroup, conn *websocket.Conn, to string, st *stats) {
	defer wg.Done()

	for i := 0; i < *msgCount; i++ {
		data, _ := json.Marshal(chat.SendMessageRequest{To: to, Text: fmt.Sprintf("LoadTest Msg %d", i)})
		if err := conn.WriteJSON(chat.Envelope{Event: chat.EventSendMessage, Data: data}); err != nil {
			return
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(*interval)
	}
}

// drain counts deliveries until the peer has been quiet for a while.
func drain(wg *sync.WaitGroup, conn *websocket.Conn, st *stats) {
	defer wg.Done()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env chat.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event == chat.EventReceiveMessage {
			st.received.Add(1)
		}
	}
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
