package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/lingoloom/pkg/provider/moderation"
)

func moderationServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/moderations") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header: got %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["input"] != "some text" {
			t.Errorf("input: got %v", req["input"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestClassify_UsesFirstResult(t *testing.T) {
	srv := moderationServer(t, http.StatusOK, `{
		"id": "modr-1", "model": "omni-moderation-latest",
		"results": [
			{"flagged": true, "categories": {"hate": true, "violence": true}, "category_scores": {}, "category_applied_input_types": {}},
			{"flagged": false, "categories": {}, "category_scores": {}, "category_applied_input_types": {}}
		]
	}`)
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.Flagged {
		t.Error("expected flagged result")
	}
	if len(res.Categories) != 2 || res.Categories[0] != "hate" || res.Categories[1] != "violence" {
		t.Errorf("categories: got %v", res.Categories)
	}
}

func TestClassify_StatusError(t *testing.T) {
	srv := moderationServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit","param":""}}`)
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	_, err := p.Classify(context.Background(), "some text")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := moderation.StatusCode(err); code != http.StatusTooManyRequests {
		t.Errorf("status code: got %d, want 429", code)
	}
}

func TestClassify_EmptyResults(t *testing.T) {
	srv := moderationServer(t, http.StatusOK, `{"id":"modr-2","model":"omni-moderation-latest","results":[]}`)
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	if _, err := p.Classify(context.Background(), "some text"); err == nil {
		t.Fatal("expected error for empty results")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model: got %q", p.model)
	}
	if p.Name() != "openai" {
		t.Errorf("name: got %q", p.Name())
	}
}
