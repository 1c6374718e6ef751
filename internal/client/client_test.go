package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/relaychat/internal/relay"
	"github.com/samsaffron/relaychat/internal/store"
	"github.com/samsaffron/relaychat/internal/usage"
)

const toolStream = `data: "Let me check. "

data: {"type":"tool_call","tool":"generate_random_number"}

data: {"type":"tool_payload","payload":"{\"min\":1,"}

data: {"type":"tool_payload","payload":"\"max\":1}"}

data: {"type":"tool_result","tool":"generate_random_number","result":"1"}

data: "You got 1."

data: {"type":"tool_finished","tool":"generate_random_number"}

data: {"totalInputTokens":150,"totalOutputTokens":30,"inputCost":0.00045,"outputCost":0.00045,"totalCost":0.0009}

data: [DONE]

`

func TestConsumeBuildsAssistantMessage(t *testing.T) {
	var running []string
	a, err := Consume(context.Background(), strings.NewReader(toolStream), func(ev relay.Event, a *Assistant) {
		running = append(running, a.ToolRunning)
	})
	require.NoError(t, err)

	want := "Let me check. \n\n`Tool call: generate_random_number`\n\n" +
		`{"min":1,"max":1}` +
		"\n\nResult: 1\n\nYou got 1."
	assert.Equal(t, want, a.Content)
	assert.Equal(t, 150, a.TotalInputTokens)
	assert.Equal(t, 30, a.TotalOutputTokens)
	assert.InDelta(t, 0.0009, a.TotalCost, 1e-12)
	assert.Empty(t, a.ToolRunning)
	assert.Equal(t, "generate_random_number", running[1], "indicator set after tool_call")
	assert.Empty(t, running[4], "indicator cleared by tool_result")
}

func TestConsumeHandlesSplitReads(t *testing.T) {
	a, err := Consume(context.Background(), iotest.OneByteReader(strings.NewReader(toolStream)), nil)
	require.NoError(t, err)
	assert.Contains(t, a.Content, "You got 1.")
}

func TestConsumeToolErrorAndErrorFrame(t *testing.T) {
	body := "data: {\"type\":\"tool_call\",\"tool\":\"x\"}\n\n" +
		"data: {\"type\":\"tool_error\",\"tool\":\"x\",\"error\":\"boom\"}\n\n" +
		"data: {\"type\":\"tool_finished\",\"tool\":\"x\"}\n\n" +
		"data: {\"error\":\"An error occurred while processing the response\"}\n\n" +
		": keepalive\n\n" +
		"data: [DONE]\n\n"
	a, err := Consume(context.Background(), strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "\n\n`Tool call: x`\n\n\n\nTool error: boom\n\n", a.Content)
	assert.Equal(t, relay.GenericErrorMessage, a.Err)
	assert.Empty(t, a.ToolRunning)
}

func TestConsumeWithoutDone(t *testing.T) {
	a, err := Consume(context.Background(), strings.NewReader("data: \"partial\"\n\n"), nil)
	require.ErrorIs(t, err, ErrNoDone)
	assert.Equal(t, "partial", a.Content)
}

func TestConsumeStopsAtDone(t *testing.T) {
	body := "data: \"a\"\n\ndata: [DONE]\n\ndata: \"ignored\"\n\n"
	a, err := Consume(context.Background(), strings.NewReader(body), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Content)
}

func TestConsumeRejectsGarbage(t *testing.T) {
	_, err := Consume(context.Background(), strings.NewReader("data: {not json\n\n"), nil)
	require.Error(t, err)
}

func TestDecoderJoinsMultilineData(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: \"a\ndata: b\"\r\n\n"))
	_, err := dec.Next()
	// "a\nb" is not valid JSON with a raw newline inside a string.
	require.Error(t, err)

	dec = NewDecoder(strings.NewReader("event: x\ndata: [DONE]\n\n"))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, relay.KindDone, ev.Kind)
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type fakeServer struct {
	mu       sync.Mutex
	saved    []store.Message
	form     map[string]string
	files    map[string]string
	authSeen string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authSeen = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.form[k] = v[0]
		}
		f.files = map[string]string{}
		for _, fh := range r.MultipartForm.File["files"] {
			file, _ := fh.Open()
			data, _ := io.ReadAll(file)
			file.Close()
			f.files[fh.Filename] = string(data)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, toolStream)
	})
	mux.HandleFunc("POST /api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg store.Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		msg.ChatID = r.PathValue("id")
		f.mu.Lock()
		f.saved = append(f.saved, msg)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(msg)
	})
	mux.HandleFunc("POST /api/chats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(store.Chat{ID: "chat-1", Title: "Random Numbers"})
	})
	mux.HandleFunc("GET /api/usage", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"userId":"alice","totalCost":1.25}`)
	})
	return mux
}

func TestClientSendPersistsBothMessages(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	chat, err := c.CreateChat(context.Background(), "pick a number")
	require.NoError(t, err)
	assert.Equal(t, "Random Numbers", chat.Title)

	a, err := c.Send(context.Background(), SendRequest{
		ChatID: chat.ID,
		Model:  "gpt-4o-mini-2024-07-18",
		Turns:  []relay.Turn{{Role: "user", Content: "pick a number"}},
		Files:  []Upload{{Name: "notes.txt", Content: []byte("between 1 and 1")}},
		Prices: &usage.Prices{InputPerMillion: 3, OutputPerMillion: 15},
	})
	require.NoError(t, err)
	assert.Contains(t, a.Content, "You got 1.")

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, "Bearer secret", fs.authSeen)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", fs.form["model"])
	assert.Equal(t, "false", fs.form["reasoningModel"])
	assert.Equal(t, "3", fs.form["inputCost"])
	assert.Equal(t, "15", fs.form["outputCost"])
	assert.JSONEq(t, `[{"role":"user","content":"pick a number"}]`, fs.form["messages"])
	assert.Equal(t, "between 1 and 1", fs.files["notes.txt"])

	require.Len(t, fs.saved, 2)
	assert.Equal(t, store.RoleUser, fs.saved[0].Role)
	assert.Equal(t, store.RoleAssistant, fs.saved[1].Role)
	assert.Equal(t, a.Content, fs.saved[1].Content)
	assert.Equal(t, 150, fs.saved[1].InputTokens)
	assert.InDelta(t, 0.0009, fs.saved[1].TotalCost, 1e-12)
}

func TestClientSendReportsPersistenceErrorWithMessage(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, toolStream)
	})
	mux.HandleFunc("POST /api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"disk full"}`)
			return
		}
		io.WriteString(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := NewClient(srv.URL, "", nil).Send(context.Background(), SendRequest{
		ChatID: "c1",
		Model:  "lorem-fast",
		Turns:  []relay.Turn{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	require.NotNil(t, a)
	assert.Contains(t, a.Content, "You got 1.")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "disk full", apiErr.Message)
}

func TestClientUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong", nil).Send(context.Background(), SendRequest{
		Model: "lorem-fast",
		Turns: []relay.Turn{{Role: "user", Content: "hi"}},
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Unauthorized", apiErr.Message)
}

func TestClientUsage(t *testing.T) {
	srv := httptest.NewServer((&fakeServer{}).handler(t))
	defer srv.Close()

	total, err := NewClient(srv.URL, "", nil).Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.25, total)
}
