package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/chat"
	"github.com/meshtalk/meshtalk/internal/config"
	"github.com/meshtalk/meshtalk/internal/identity"
	"github.com/meshtalk/meshtalk/internal/link"
	"github.com/meshtalk/meshtalk/internal/store"
	"go.uber.org/zap"
)

type testServer struct {
	srv    *Server
	db     *store.DB
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "meshtalk-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "meshtalk.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	machine := link.NewMachine(b)
	local := identity.Payload{ID: "me", Nickname: "Self", ProtocolVersion: identity.ProtocolVersion}
	limits := config.Limits{MaxGroupParticipants: 16, MaxMessageLength: 4096, MaxImageSize: 1 << 20}
	svc := chat.NewService(db, b, nil, limits, local, zap.NewNop())

	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, zap.NewNop(), svc, db, machine, nil)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { srv.Stop(context.Background()) })
	time.Sleep(50 * time.Millisecond)

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}
	return &testServer{srv: srv, db: db, client: client}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, "http://unix"+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, out.Bytes()
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var st StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.Profile != "test" || st.PeerID != "me" {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.LinkState != string(link.Offline) {
		t.Errorf("link state = %q, want offline", st.LinkState)
	}
}

func TestContactAndChatFlow(t *testing.T) {
	ts := newTestServer(t)

	payload, err := identity.Encode(identity.Payload{ID: "c1", Nickname: "Ania"})
	if err != nil {
		t.Fatal(err)
	}
	resp, body := ts.do(t, http.MethodPost, "/v1/contacts", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add contact = %d: %s", resp.StatusCode, body)
	}

	// Duplicate is a conflict.
	resp, _ = ts.do(t, http.MethodPost, "/v1/contacts", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate contact = %d, want 409", resp.StatusCode)
	}

	// Garbage payload is rejected.
	resp, _ = ts.do(t, http.MethodPost, "/v1/contacts", []byte("not json"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad payload = %d, want 422", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/v1/chats/direct", map[string]string{"contact_id": "c1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create direct = %d: %s", resp.StatusCode, body)
	}
	var created store.Chat
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/chats/%s/messages", created.ID), map[string]string{"content": "Hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send = %d: %s", resp.StatusCode, body)
	}
	var msg store.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != store.StatusSending {
		t.Errorf("status = %q, want sending", msg.Status)
	}

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/chats/%s/messages", created.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages = %d: %s", resp.StatusCode, body)
	}
	var msgs []store.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "Hello" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/v1/chats/ghost/messages", map[string]string{"content": "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown chat = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/v1/chats/group", map[string]any{"name": "g", "participants": []string{}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty group = %d, want 422", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/v1/messages/ghost/retry", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("retry unknown = %d, want 404", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/v1/search", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing query = %d, want 400", resp.StatusCode)
	}
}

func TestIdentityEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/v1/identity", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identity = %d", resp.StatusCode)
	}
	p, err := identity.Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "me" || p.Nickname != "Self" {
		t.Errorf("unexpected identity: %+v", p)
	}

	resp, body = ts.do(t, http.MethodGet, "/v1/identity/qr", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr = %d", resp.StatusCode)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("qr response is not a PNG")
	}
}
