package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/chats/r1/members/u1":
			json.NewEncoder(w).Encode(map[string]bool{"isMember": true})
		case "/chats/r1/members/u2":
			json.NewEncoder(w).Encode(map[string]bool{"isMember": false})
		case "/chats/r1/members/u3":
			w.WriteHeader(http.StatusForbidden)
		case "/chats/r1/members/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, srv.URL, time.Second)
	ctx := context.Background()

	cases := []struct {
		name   string
		user   string
		token  string
		member bool
		err    error
	}{
		{"member", "u1", "good", true, nil},
		{"not member", "u2", "good", false, nil},
		{"forbidden", "u3", "good", false, nil},
		{"unknown chat", "nobody", "good", false, nil},
		{"expired credential", "u1", "stale", false, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := c.IsMember(ctx, tc.user, "r1", tc.token)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if ok != tc.member {
				t.Errorf("member = %v, want %v", ok, tc.member)
			}
		})
	}

	t.Run("server error surfaces status", func(t *testing.T) {
		_, err := c.IsMember(ctx, "boom", "r1", "good")
		var se *StatusError
		if !errors.As(err, &se) || se.Status != http.StatusInternalServerError {
			t.Fatalf("err = %v, want StatusError 500", err)
		}
	})
}

func TestMessageRelays(t *testing.T) {
	var lastMethod, lastPath, lastQuery string
	var lastBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod, lastPath, lastQuery = r.Method, r.URL.Path, r.URL.RawQuery
		lastBody = nil
		json.NewDecoder(r.Body).Decode(&lastBody)
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "m1", "chatId": "r1", "text": lastBody["text"], "status": "Sent"})
		case http.MethodPatch:
			json.NewEncoder(w).Encode(map[string]string{"id": "m1", "chatId": "r1", "text": lastBody["text"], "status": "Modified"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()
	c := NewClient("http://unused", srv.URL, time.Second)
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		msg, err := c.CreateMessage(ctx, "tok", "r1", "hi", "local-1")
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if lastMethod != http.MethodPost || lastPath != "/chats/r1/messages" || lastBody["localId"] != "local-1" {
			t.Errorf("request = %s %s %v", lastMethod, lastPath, lastBody)
		}
		if msg.ID != "m1" || msg.Text != "hi" {
			t.Errorf("msg = %+v", msg)
		}
	})

	t.Run("edit", func(t *testing.T) {
		msg, err := c.EditMessage(ctx, "tok", "m1", "r1", "edited")
		if err != nil {
			t.Fatalf("EditMessage: %v", err)
		}
		if lastMethod != http.MethodPatch || lastPath != "/messages/m1" || lastBody["chatId"] != "r1" {
			t.Errorf("request = %s %s %v", lastMethod, lastPath, lastBody)
		}
		if msg.Status != "Modified" {
			t.Errorf("status = %q", msg.Status)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := c.DeleteMessage(ctx, "tok", "m1", "r1"); err != nil {
			t.Fatalf("DeleteMessage: %v", err)
		}
		if lastMethod != http.MethodDelete || lastPath != "/messages/m1" || lastQuery != "chatId=r1" {
			t.Errorf("request = %s %s?%s", lastMethod, lastPath, lastQuery)
		}
	})
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, srv.URL, 50*time.Millisecond)
	start := time.Now()
	if _, err := c.IsMember(context.Background(), "u1", "r1", "tok"); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("call not bounded by timeout: %v", time.Since(start))
	}
}
