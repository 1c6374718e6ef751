package cmd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/relaychat/internal/config"
	"github.com/samsaffron/relaychat/internal/llm"
	"github.com/samsaffron/relaychat/internal/relay"
	"github.com/samsaffron/relaychat/internal/serveui"
	"github.com/samsaffron/relaychat/internal/signal"
	"github.com/samsaffron/relaychat/internal/store"
	"github.com/samsaffron/relaychat/internal/usage"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	serveHost        string
	servePort        int
	serveAllowNoAuth bool
	serveCORSOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay HTTP server",
	Long: `Run the chat relay server and its web UI.

Endpoints:
  POST /api/chat                  stream a reply as Server-Sent Events
  GET  /api/models                model catalog with prices
  GET  /api/chats                 list your chats
  POST /api/chats                 create a chat
  GET  /api/chats/{id}/messages   chat history
  POST /api/chats/{id}/messages   append a message
  GET  /api/usage                 your cumulative cost
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config, 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config, 8080)")
	serveCmd.Flags().BoolVar(&serveAllowNoAuth, "allow-no-auth", false, "Disable auth (only allowed on loopback host)")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable, or '*' for all)")
}

// localUserID is the user every request runs as when auth is disabled.
const localUserID = "local"

func runServe(cmd *cobra.Command, args []string) error {
	if servePort < 0 || servePort > 65535 {
		return fmt.Errorf("invalid --port %d (must be 1-65535)", servePort)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyServeOverrides(serveHost, servePort, serveAllowNoAuth)
	if len(serveCORSOrigins) > 0 {
		cfg.Serve.CORSOrigins = serveCORSOrigins
	}

	if cfg.Auth.AllowNoAuth && !isLoopbackHost(cfg.Serve.Host) {
		return fmt.Errorf("--allow-no-auth is only allowed on loopback hosts (got %q)", cfg.Serve.Host)
	}
	var generated string
	if !cfg.Auth.AllowNoAuth && len(cfg.Auth.Users) == 0 {
		generated, err = generateServeToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		cfg.Auth.Users = []config.UserToken{{ID: "default", Token: generated}}
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	s := newServeServer(cfg, serveDeps{
		providers: llm.NewRouter(cfg),
		store:     st,
		catalog:   catalog,
		titles:    llm.NewTitleGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Title.Model),
	})
	if err := s.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "relaychat serve listening on http://%s:%d\n", cfg.Serve.Host, cfg.Serve.Port)
	fmt.Fprintf(cmd.ErrOrStderr(), "auth: %s\n", authSummary(!cfg.Auth.AllowNoAuth, len(cfg.Auth.Users)))
	if generated != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "token: %s\n", generated)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func authSummary(required bool, users int) string {
	if required {
		return fmt.Sprintf("bearer required (%d users)", users)
	}
	return "disabled"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

func generateServeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type titleGenerator interface {
	Generate(ctx context.Context, prompt string) string
}

type serveDeps struct {
	providers relay.ProviderResolver
	store     store.Store
	catalog   *usage.Catalog
	titles    titleGenerator
}

type serveServer struct {
	cfg     *config.Config
	relay   *relay.Orchestrator
	store   store.Store
	catalog *usage.Catalog
	titles  titleGenerator
	limiter *userLimiter
	server  *http.Server
}

func newServeServer(cfg *config.Config, deps serveDeps) *serveServer {
	return &serveServer{
		cfg: cfg,
		relay: relay.New(relay.Options{
			Providers:    deps.providers,
			Tools:        newToolRegistry(cfg),
			SystemPrompt: relay.DefaultSystemPrompt,
			MaxDepth:     cfg.Serve.MaxToolDepth,
			CostSink:     deps.store,
			Logger:       slog.Default(),
		}),
		store:   deps.store,
		catalog: deps.catalog,
		titles:  deps.titles,
		limiter: newUserLimiter(cfg.Serve.RateLimit),
	}
}

func (s *serveServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.cors(s.handleModels))
	mux.HandleFunc("POST /api/chat", s.cors(s.auth(s.handleChat)))
	mux.HandleFunc("GET /api/chats", s.cors(s.auth(s.handleListChats)))
	mux.HandleFunc("POST /api/chats", s.cors(s.auth(s.handleCreateChat)))
	mux.HandleFunc("GET /api/chats/{id}/messages", s.cors(s.auth(s.handleGetMessages)))
	mux.HandleFunc("POST /api/chats/{id}/messages", s.cors(s.auth(s.handleAppendMessage)))
	mux.HandleFunc("GET /api/usage", s.cors(s.auth(s.handleUsage)))
	mux.HandleFunc("OPTIONS /api/", s.cors(func(http.ResponseWriter, *http.Request) {}))
	mux.HandleFunc("GET /{$}", s.handleUI)

	return mux
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Serve.Host, s.cfg.Serve.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *serveServer) handleUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(serveui.IndexHTML())
}

type userKey struct{}

func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (s *serveServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := localUserID
		if !s.cfg.Auth.AllowNoAuth {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
			id, ok := s.cfg.UserForToken(token)
			if !strings.HasPrefix(header, prefix) || !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userID = id
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.Serve.CORSOrigins))
	allowAll := false
	for _, origin := range s.cfg.Serve.CORSOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// userLimiter holds one token bucket per user.
type userLimiter struct {
	perMinute int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

// newUserLimiter returns nil (no limit) when perMinute is not positive.
func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &userLimiter{perMinute: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

const (
	maxChatBody    = 32 << 20
	maxFormMemory  = 8 << 20
	maxChatHistory = 200
)

func (s *serveServer) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	if !s.limiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	req, err := s.parseChatForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = userID

	run, err := s.relay.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, relay.ErrInvalidRequest) || errors.Is(err, llm.ErrUnknownModel) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("stream setup failed", "user", userID, "model", req.Model, "error", err)
		writeError(w, http.StatusBadGateway, "failed to reach the model provider")
		return
	}

	writer := relay.NewWriter(w, slog.Default())
	if err := writer.Serve(run); err != nil {
		slog.Debug("chat stream ended early", "user", userID, "error", err)
	}
	cost := run.Cost()
	slog.Info("chat complete", "user", userID, "model", req.Model,
		"frames", writer.Frames(), "input_tokens", cost.TotalInputTokens,
		"output_tokens", cost.TotalOutputTokens, "cost", cost.TotalCost)
}

// parseChatForm reads the multipart chat request. Prices fall back to the
// model catalog when the form omits them.
func (s *serveServer) parseChatForm(r *http.Request) (relay.Request, error) {
	var req relay.Request
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return req, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	req.Model = strings.TrimSpace(r.FormValue("model"))
	if req.Model == "" {
		return req, fmt.Errorf("model is required")
	}
	if err := json.Unmarshal([]byte(r.FormValue("messages")), &req.Turns); err != nil {
		return req, fmt.Errorf("invalid messages: %w", err)
	}
	if len(req.Turns) > maxChatHistory {
		req.Turns = req.Turns[len(req.Turns)-maxChatHistory:]
	}

	model, known := s.catalog.Lookup(req.Model)
	if known {
		req.Prices = model.Prices
		req.Reasoning = model.Reasoning
	}
	if v := r.FormValue("reasoningModel"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid reasoningModel %q", v)
		}
		req.Reasoning = b
	}
	for field, dest := range map[string]*float64{
		"inputCost":  &req.Prices.InputPerMillion,
		"outputCost": &req.Prices.OutputPerMillion,
	} {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return req, fmt.Errorf("invalid %s %q", field, v)
		}
		*dest = f
	}

	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return req, fmt.Errorf("read file %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return req, fmt.Errorf("read file %s: %w", fh.Filename, err)
		}
		req.Files = append(req.Files, relay.File{
			Name:    fh.Filename,
			Content: strings.ToValidUTF8(string(data), "�"),
		})
	}
	return req, nil
}

func (s *serveServer) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.catalog.Models()})
}

func (s *serveServer) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context(), userFromContext(r.Context()), 50)
	if err != nil {
		slog.Warn("list chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type createChatRequest struct {
	Prompt string `json:"prompt"`
	Title  string `json:"title"`
}

func (s *serveServer) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body createChatRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		title = llm.DefaultChatTitle
		if s.titles != nil {
			title = s.titles.Generate(r.Context(), body.Prompt)
		}
	}
	chat, err := s.store.CreateChat(r.Context(), userFromContext(r.Context()), title)
	if err != nil {
		slog.Warn("create chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// ownedChat loads the chat named in the path, answering 404 for chats that do
// not exist or belong to someone else.
func (s *serveServer) ownedChat(w http.ResponseWriter, r *http.Request) (*store.Chat, bool) {
	chat, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && chat.OwnerID != userFromContext(r.Context())) {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	if err != nil {
		slog.Warn("get chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return nil, false
	}
	return chat, true
}

func (s *serveServer) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.ownedChat(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.GetMessages(r.Context(), chat.ID)
	if err != nil {
		slog.Warn("get messages failed", "chat", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "messages": msgs})
}

func (s *serveServer) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.ownedChat(w, r)
	if !ok {
		return
	}
	var msg store.Message
	if err := decodeJSONBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !store.ValidRole(msg.Role) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", msg.Role))
		return
	}
	msg.ID = ""
	msg.CreatedAt = time.Time{}
	if err := s.store.AppendMessage(r.Context(), chat.ID, &msg); err != nil {
		slog.Warn("append message failed", "chat", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *serveServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	total, err := s.store.UserCost(r.Context(), userID)
	if err != nil {
		slog.Warn("get usage failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "totalCost": total})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}
