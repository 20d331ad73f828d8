//go:build integration
// +build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gokatarajesh/live-quiz/internal/auth/jwt"
	wsmsg "github.com/gokatarajesh/live-quiz/pkg/http/ws"
)

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// tokens signs identities with the server's secret; the service trusts an
// upstream identity provider and has no login endpoint of its own.
func tokens(t *testing.T) *jwt.Manager {
	t.Helper()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		t.Skip("JWT_SECRET not set")
	}
	return jwt.NewManager(jwt.TokenConfig{
		Secret: []byte(secret),
		Issuer: envOrDefault("JWT_ISSUER", "live-quiz"),
	})
}

func mintToken(t *testing.T, mgr *jwt.Manager, id jwt.Identity) string {
	t.Helper()
	token, err := mgr.GenerateAccessToken(id)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type sessionInfo struct {
	PIN            string `json:"pin"`
	SessionID      string `json:"sessionId"`
	TotalQuestions int    `json:"totalQuestions"`
}

func createSession(t *testing.T, baseURL, token string, body map[string]any) (sessionInfo, int) {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal session payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/sessions", baseURL), bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create session request failed: %v", err)
	}
	defer resp.Body.Close()

	var out sessionInfo
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode session response: %v", err)
		}
	}
	return out, resp.StatusCode
}

func quizID(t *testing.T) string {
	t.Helper()
	id := os.Getenv("INTEGRATION_QUIZ_ID")
	if id == "" {
		t.Skip("INTEGRATION_QUIZ_ID not set; seed a quiz first")
	}
	return id
}

func dialLive(t *testing.T, wsBase, token, pin string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(wsBase)
	if err != nil {
		t.Fatalf("invalid WS url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("pin", pin)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()

	msg, err := wsmsg.NewMessage(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("failed to send %s: %v", msgType, err)
	}
}

// waitFor reads until a message of msgType arrives and decodes its payload
// into out.
func waitFor(t *testing.T, conn *websocket.Conn, msgType string, timeout time.Duration, out any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg wsmsg.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read ws message failed while waiting for %s: %v", msgType, err)
		}
		if msg.Type != msgType {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(msg.Payload, out); err != nil {
				t.Fatalf("decode %s payload: %v", msgType, err)
			}
		}
		return
	}
	t.Fatalf("timeout waiting for %s", msgType)
}
