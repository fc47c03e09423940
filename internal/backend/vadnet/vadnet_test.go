package vadnet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/longscribe/engine/internal/backend"
	apperr "github.com/longscribe/engine/internal/errors"
)

func TestDetectForwardsQueryAndBody(t *testing.T) {
	var gotQuery string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/load":
			w.WriteHeader(http.StatusOK)
		case "/detect":
			gotQuery = r.URL.RawQuery
			gotBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(detectResponse{
				Spans: []struct {
					Start float64 `json:"start"`
					End   float64 `json:"end"`
				}{{Start: 0.5, End: 2.25}, {Start: 4, End: 9.5}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	sess, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Key() != ModelKey {
		t.Errorf("key = %q, want %q", sess.Key(), ModelKey)
	}

	pcm := []byte{1, 2, 3, 4}
	spans, err := sess.Detect(context.Background(), pcm, 16000, 0.35)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if gotQuery != "sample_rate=16000&threshold=0.35" {
		t.Errorf("query = %q, want sample_rate=16000&threshold=0.35", gotQuery)
	}
	if string(gotBody) != string(pcm) {
		t.Errorf("body = %v, want raw PCM forwarded", gotBody)
	}
	if len(spans) != 2 || spans[0] != (backend.Span{Start: 0.5, End: 2.25}) {
		t.Errorf("spans = %+v, want two parsed spans", spans)
	}
}

func TestDetectErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/load" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "bad pcm", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	sess, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = sess.Detect(context.Background(), []byte{0}, 16000, 0.5)
	if err == nil {
		t.Fatal("detect succeeded, want error")
	}
	if apperr.CodeOf(err) != apperr.CodeBackendCall {
		t.Errorf("code = %v, want %v", apperr.CodeOf(err), apperr.CodeBackendCall)
	}
}

func TestProviderReusesSession(t *testing.T) {
	loads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/load" {
			loads++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &Provider{
		Client: NewClient(Config{URL: srv.URL}),
		Cache:  backend.NewCache(),
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Engine(context.Background()); err != nil {
			t.Fatalf("engine: %v", err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1 (cached session)", loads)
	}
}
