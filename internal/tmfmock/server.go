package tmfmock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"IntentMCP/pkg/logger"
)

// referencePattern matches the references this mock hands out. Anything else
// on the intent routes is a 404, malformed included.
var referencePattern = regexp.MustCompile(`^intent-[a-f0-9]{10}$`)

// Config holds the mock server settings.
type Config struct {
	Addr         string
	MappingsPath string
}

// record is the mock's view of one intent. The state progresses
// deterministically: created on submission, active on the next fetch,
// terminated after cancel.
type record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     string         `json:"state"`
	Payload   map[string]any `json:"-"`
	CreatedAt time.Time      `json:"-"`
}

// Server is a self-contained stand-in for a TMF921 intent backend.
type Server struct {
	addr     string
	mappings []StubMapping
	log      *slog.Logger

	mu      sync.Mutex
	intents map[string]*record
	byKey   map[string]string
}

// NewServer builds the mock with its stub mappings loaded.
func NewServer(cfg Config) (*Server, error) {
	mappings, err := LoadMappings(cfg.MappingsPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:     cfg.Addr,
		mappings: mappings,
		log:      logger.Named("tmfmock"),
		intents:  map[string]*record{},
		byKey:    map[string]string{},
	}, nil
}

// Handler assembles the mock routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/keycloak_realm/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc("/intent/", s.handleIntent)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/__admin/mappings", s.handleMappings)
	return mux
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleToken implements the password grant. Any credentials pass, but the
// grant type must be password, matching the Keycloak stub it imitates.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostFormValue("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "unsupported_grant_type",
			"error_description": "only the password grant is supported",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mock-token-" + uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing or invalid bearer token"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/intent/")
	switch {
	case rest == "" && r.Method == http.MethodPost:
		s.createIntent(w, r)
	case rest != "" && r.Method == http.MethodGet:
		s.fetchIntent(w, rest)
	case rest != "" && r.Method == http.MethodDelete:
		s.cancelIntent(w, rest)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "request body is not valid JSON"})
		return
	}
	name, _ := payload["name"].(string)
	if strings.TrimSpace(name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "intent payload requires a name"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The idempotency key pins retried submissions to one entity.
	key := r.Header.Get("X-Idempotency-Key")
	if key != "" {
		if ref, seen := s.byKey[key]; seen {
			existing := s.intents[ref]
			w.Header().Set("Location", "/intent/"+ref)
			writeJSON(w, http.StatusCreated, existing)
			return
		}
	}

	ref := newReference()
	rec := &record{
		ID:        ref,
		Name:      name,
		State:     "created",
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	s.intents[ref] = rec
	if key != "" {
		s.byKey[key] = ref
	}
	s.log.Info("intent created", slog.String("ref", ref), slog.String("name", name))

	w.Header().Set("Location", "/intent/"+ref)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) fetchIntent(w http.ResponseWriter, ref string) {
	if !referencePattern.MatchString(ref) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown intent reference"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.intents[ref]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown intent reference"})
		return
	}
	// Deterministic progression: a created intent reports active once the
	// network has had a chance to fulfil it, which here means any fetch.
	if rec.State == "created" {
		rec.State = "active"
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) cancelIntent(w http.ResponseWriter, ref string) {
	if !referencePattern.MatchString(ref) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown intent reference"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.intents[ref]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown intent reference"})
		return
	}
	rec.State = "terminated"
	s.log.Info("intent cancelled", slog.String("ref", ref))
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "UP"})
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": s.mappings})
}

// authorized checks bearer presence only; this mock does not verify tokens.
func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	return len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != ""
}

func newReference() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("intent-%s", raw[:10])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
