package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTitleGenerator(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  Random Number Picks \n"}}]}`)
	}))
	defer srv.Close()

	g := NewTitleGenerator("sk-test", srv.URL, "")
	if got := g.Generate(context.Background(), "pick a number"); got != "Random Number Picks" {
		t.Fatalf("title = %q", got)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Fatalf("model = %v", body["model"])
	}
}

func TestTitleGeneratorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad"}}`)
	}))
	defer srv.Close()

	if got := NewTitleGenerator("sk-test", srv.URL, "gpt-4o-mini").Generate(context.Background(), "hi"); got != DefaultChatTitle {
		t.Fatalf("title = %q", got)
	}
	var nilGen *TitleGenerator
	if got := nilGen.Generate(context.Background(), "hi"); got != DefaultChatTitle {
		t.Fatalf("nil generator title = %q", got)
	}
	if NewTitleGenerator("", "", "") != nil {
		t.Fatal("expected nil generator without api key")
	}
}
