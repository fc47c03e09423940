package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewContextIDs(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID length = %d, want 32", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID length = %d, want 16", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("new context should not have a parent span")
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newTraceID()
		if seen[id] {
			t.Fatal("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have a new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be the parent's span ID")
	}
}

func TestContextPropagation(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	extracted, ok := FromContext(ctx)
	if !ok {
		t.Fatal("trace context should round-trip")
	}
	if extracted.TraceID != tc.TraceID {
		t.Error("extracted trace ID mismatch")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should carry no trace")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "command.scan")

	if span.Name != "command.scan" {
		t.Errorf("name = %q, want command.scan", span.Name)
	}
	if span.StartTime.IsZero() {
		t.Error("span should record start time")
	}
	if span.Duration() != 0 {
		t.Error("open span should report zero duration")
	}

	span.SetAttr("files", 3)
	span.End()

	if span.Duration() <= 0 {
		t.Error("closed span should report positive duration")
	}
	if span.Attrs["files"] != 3 {
		t.Errorf("attr = %v, want 3", span.Attrs["files"])
	}

	_, child := StartSpan(ctx, "scan.file")
	if child.Ctx.TraceID != span.Ctx.TraceID {
		t.Error("child span should stay in the same trace")
	}
	if child.Ctx.ParentSpanID != span.Ctx.SpanID {
		t.Error("child span should parent to the enclosing span")
	}
}

func TestMiddlewareContinuesTrace(t *testing.T) {
	var got Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/ws", http.NoBody)
	req.Header.Set(TraceIDKey, "abc123")
	req.Header.Set(SpanIDKey, "span456")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "abc123" {
		t.Errorf("trace ID = %q, want abc123", got.TraceID)
	}
	if got.ParentSpanID != "span456" {
		t.Errorf("parent span = %q, want span456", got.ParentSpanID)
	}
	if len(got.SpanID) != 16 {
		t.Errorf("span ID length = %d, want 16", len(got.SpanID))
	}
}

func TestMiddlewareStartsFreshTrace(t *testing.T) {
	var got Context
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws", http.NoBody))

	if len(got.TraceID) != 32 {
		t.Errorf("trace ID length = %d, want 32", len(got.TraceID))
	}
	if got.ParentSpanID != "" {
		t.Errorf("parent span = %q, want empty", got.ParentSpanID)
	}
}
