package vlm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperr "github.com/longscribe/engine/internal/errors"
)

func TestReadImage(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0} // jpeg magic
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "qwen2.5vl:7b" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Fatalf("messages = %+v", req.Messages)
		}
		got, err := base64.StdEncoding.DecodeString(req.Messages[0].Images[0])
		if err != nil || string(got) != string(image) {
			t.Errorf("image not round-tripped: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "  2024-01-02 15:04:05  \n"},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	out, err := c.ReadImage(context.Background(), image, "read the timestamp")
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if out != "2024-01-02 15:04:05" {
		t.Errorf("out = %q, want trimmed reply", out)
	}
}

func TestReadImageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL})
	if _, err := c.ReadImage(context.Background(), []byte{1}, "read"); !apperr.IsCode(err, apperr.CodeBackendCall) {
		t.Fatalf("expected backend call error, got %v", err)
	}
}
