package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goliatone/go-channel-broker/core"
)

type fakeSlack struct {
	mu       sync.Mutex
	handlers map[string]func(params map[string]any) (int, map[string]any)
	calls    []string
}

func newFakeSlack() *fakeSlack {
	return &fakeSlack{
		handlers: map[string]func(params map[string]any) (int, map[string]any){},
	}
}

func (f *fakeSlack) handle(method string, fn func(params map[string]any) (int, map[string]any)) {
	f.handlers[method] = fn
}

func (f *fakeSlack) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[len("/"):]
		f.mu.Lock()
		f.calls = append(f.calls, method)
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer xoxb-1" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
			return
		}

		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		handler, ok := f.handlers[method]
		if !ok {
			t.Errorf("unexpected slack method %q", method)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, payload := handler(params)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func channelJSON(id, name string, private, archived bool) map[string]any {
	return map[string]any{
		"id":          id,
		"name":        name,
		"is_private":  private,
		"is_archived": archived,
		"topic":       map[string]any{"value": "deploys"},
		"purpose":     map[string]any{"value": "release notifications"},
	}
}

func TestClient_IdentityCheck(t *testing.T) {
	fake := newFakeSlack()
	fake.handle("auth.test", func(map[string]any) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"ok": true, "user_id": "U1", "user": "broker-bot", "team_id": "T1",
		}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	identity, err := client.IdentityCheck(context.Background(), "xoxb-1")
	if err != nil {
		t.Fatalf("identity check: %v", err)
	}
	if identity.UserID != "U1" || identity.UserName != "broker-bot" || identity.TeamID != "T1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestClient_IdentityCheckRejectedToken(t *testing.T) {
	fake := newFakeSlack()
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.IdentityCheck(context.Background(), "xoxb-wrong")
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClient_GetChannelVisibilityMismatchReadsAsMissing(t *testing.T) {
	fake := newFakeSlack()
	fake.handle("conversations.info", func(map[string]any) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"ok":      true,
			"channel": channelJSON("C1", "release-alerts", true, false),
		}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	if _, err := client.GetChannel(context.Background(), "xoxb-1", "C1", false); !errors.Is(err, core.ErrChannelNotFound) {
		t.Fatalf("public lookup of private channel must miss, got %v", err)
	}
	channel, err := client.GetChannel(context.Background(), "xoxb-1", "C1", true)
	if err != nil {
		t.Fatalf("private lookup: %v", err)
	}
	if channel.ID != "C1" || channel.Topic != "deploys" {
		t.Fatalf("unexpected channel %+v", channel)
	}
}

func TestClient_CreateChannelNormalizesName(t *testing.T) {
	fake := newFakeSlack()
	var gotName string
	fake.handle("conversations.create", func(params map[string]any) (int, map[string]any) {
		gotName, _ = params["name"].(string)
		return http.StatusOK, map[string]any{
			"ok":      true,
			"channel": channelJSON("C2", gotName, false, false),
		}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	channel, err := client.CreateChannel(context.Background(), "xoxb-1", "  Release Alerts  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotName != "release-alerts" {
		t.Fatalf("expected normalized name, sent %q", gotName)
	}
	if channel.ID != "C2" {
		t.Fatalf("unexpected channel %+v", channel)
	}
}

func TestClient_MapsSlackErrorCodes(t *testing.T) {
	cases := []struct {
		slackError string
		want       error
	}{
		{"name_taken", core.ErrChannelNameTaken},
		{"channel_not_found", core.ErrChannelNotFound},
		{"ratelimited", core.ErrOperationInProgress},
		{"restricted_action", core.ErrChannelNotAccessible},
	}
	for _, tc := range cases {
		fake := newFakeSlack()
		fake.handle("conversations.create", func(map[string]any) (int, map[string]any) {
			return http.StatusOK, map[string]any{"ok": false, "error": tc.slackError}
		})
		server := fake.server(t)

		client := NewClient(WithBaseURL(server.URL))
		_, err := client.CreateChannel(context.Background(), "xoxb-1", "release-alerts")
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.slackError, tc.want, err)
		}
	}
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	fake := newFakeSlack()
	fake.handle("chat.postMessage", func(map[string]any) (int, map[string]any) {
		return http.StatusServiceUnavailable, map[string]any{}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	err := client.PostMessage(context.Background(), "xoxb-1", core.ChannelMessage{
		Channel: "C1", Text: "deploy finished",
	})
	if !errors.Is(err, core.ErrOperationInProgress) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClient_UnarchiveTreatsActiveChannelAsSuccess(t *testing.T) {
	fake := newFakeSlack()
	fake.handle("conversations.unarchive", func(map[string]any) (int, map[string]any) {
		return http.StatusOK, map[string]any{"ok": false, "error": "not_archived"}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	if err := client.Unarchive(context.Background(), "xoxb-1", "C1"); err != nil {
		t.Fatalf("unarchive of active channel must succeed, got %v", err)
	}
}

func TestClient_ListChannelsFollowsCursor(t *testing.T) {
	fake := newFakeSlack()
	page := 0
	fake.handle("conversations.list", func(params map[string]any) (int, map[string]any) {
		page++
		if page == 1 {
			return http.StatusOK, map[string]any{
				"ok":                true,
				"channels":          []any{channelJSON("C1", "alpha", false, false)},
				"response_metadata": map[string]any{"next_cursor": "page-2"},
			}
		}
		if cursor, _ := params["cursor"].(string); cursor != "page-2" {
			return http.StatusOK, map[string]any{"ok": false, "error": "invalid_cursor"}
		}
		return http.StatusOK, map[string]any{
			"ok":       true,
			"channels": []any{channelJSON("C2", "beta", false, true)},
		}
	})
	server := fake.server(t)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	channels, err := client.ListChannels(context.Background(), "xoxb-1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 2 || channels[0].ID != "C1" || channels[1].ID != "C2" {
		t.Fatalf("unexpected channels %+v", channels)
	}
	if !channels[1].IsArchived {
		t.Fatalf("archived flag lost: %+v", channels[1])
	}
}
