package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"nexus/server/internal/channel"
	"nexus/server/internal/protocol"
	"nexus/server/internal/session"
)

type fakeChannelStore struct{}

func (fakeChannelStore) SaveChannelState(name, topic, topicSetBy string, secret bool, secretSetBy string) error {
	return nil
}

type fakeNewsStore struct {
	items []protocol.NewsItem
}

func (f fakeNewsStore) ListNews() ([]protocol.NewsItem, error) {
	return f.items, nil
}

func TestHealthAndSessions(t *testing.T) {
	sessions := session.NewRegistry()
	account := session.Account{Username: "alice", Permissions: nil}
	sess, err := sessions.Register(account, nil, "en", nil, "alice", netip.MustParseAddr("127.0.0.1"), 1000)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer sessions.Remove(sess.ID)

	channels := channel.NewManager(fakeChannelStore{})
	channels.InitializePersistent([]string{"#general"})

	api := New(sessions, channels, fakeNewsStore{items: []protocol.NewsItem{{ID: 1, Title: "hello"}}})
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	healthResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", healthResp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Sessions != 1 {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	sessResp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	defer sessResp.Body.Close()
	var sessState sessionsResponse
	if err := json.NewDecoder(sessResp.Body).Decode(&sessState); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessState.Sessions) != 1 || sessState.Sessions[0].Nickname != "alice" {
		t.Fatalf("unexpected sessions payload: %#v", sessState)
	}

	chResp, err := http.Get(ts.URL + "/api/channels")
	if err != nil {
		t.Fatalf("GET /api/channels: %v", err)
	}
	defer chResp.Body.Close()
	var chState channelsResponse
	if err := json.NewDecoder(chResp.Body).Decode(&chState); err != nil {
		t.Fatalf("decode channels: %v", err)
	}
	if len(chState.Channels) != 1 || chState.Channels[0].Name != "#general" {
		t.Fatalf("unexpected channels payload: %#v", chState)
	}

	newsResp, err := http.Get(ts.URL + "/api/news")
	if err != nil {
		t.Fatalf("GET /api/news: %v", err)
	}
	defer newsResp.Body.Close()
	var newsState newsResponse
	if err := json.NewDecoder(newsResp.Body).Decode(&newsState); err != nil {
		t.Fatalf("decode news: %v", err)
	}
	if len(newsState.Items) != 1 || newsState.Items[0].Title != "hello" {
		t.Fatalf("unexpected news payload: %#v", newsState)
	}
}
