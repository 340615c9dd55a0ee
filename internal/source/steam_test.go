package source_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/source"
)

const discussionsHTML = `<html><body>
<div class="forum_topic">
  <a class="forum_topic_overlay" href="/topic/1"></a>
  <div class="forum_topic_name">WTS rare tools</div>
</div>
<div class="forum_topic">
  <a class="forum_topic_overlay" href="/topic/2"></a>
  <div class="forum_topic_name">Patch notes discussion</div>
</div>
</body></html>`

const steamTopicHTML = `<html><body>
<div class="forum_post_content">
  <a class="forum_op_author">Alice</a>
  <div>iron hammer 3s</div>
</div>
<div class="forum_post_content">
  <div>long sword 5s</div>
</div>
<div class="forum_post_content"> </div>
</body></html>`

func steamConfig(urls ...string) config.ScraperConfig {
	return config.ScraperConfig{SteamURLs: urls, MaxTopics: 5, MaxRetries: 2, UserAgent: "test"}
}

func TestSteam_Fetch(t *testing.T) {
	var topicFlaky atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/discussions", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, discussionsHTML)
	})
	mux.HandleFunc("/topic/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		// First attempt fails; the retry succeeds.
		if topicFlaky.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, steamTopicHTML)
	})
	mux.HandleFunc("/topic/2", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("non-trade topic was fetched")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := source.NewSteam(steamConfig(srv.URL+"/discussions"), isTrade, discardLogger())
	docs, err := s.Fetch(context.Background(), s.Targets()[0])
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if got := topicFlaky.Load(); got != 2 {
		t.Errorf("topic requested %d times, want 2", got)
	}

	first := docs[0]
	if first.Title != "WTS rare tools" || first.URL != srv.URL+"/topic/1" {
		t.Errorf("first document = %+v", first)
	}
	if first.Author != "Alice" || first.Contact != "Steam: Alice" {
		t.Errorf("author = %q contact = %q", first.Author, first.Contact)
	}
	if first.Body != "Alice\niron hammer 3s" {
		t.Errorf("Body = %q", first.Body)
	}
	if docs[1].Author != "unknown" || docs[1].Body != "long sword 5s" {
		t.Errorf("second document = %+v", docs[1])
	}
}

func TestSteam_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	s := source.NewSteam(steamConfig(srv.URL), isTrade, discardLogger())
	if _, err := s.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestSteam_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := source.NewSteam(steamConfig(srv.URL), isTrade, discardLogger())
	if _, err := s.Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
