package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vaultforge/syncd/pkg/config"
	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/identity"
	"github.com/vaultforge/syncd/pkg/log"
	"github.com/vaultforge/syncd/pkg/metrics"
	"github.com/vaultforge/syncd/pkg/publish"
	"github.com/vaultforge/syncd/pkg/security"
	"github.com/vaultforge/syncd/pkg/storage"
	"github.com/vaultforge/syncd/pkg/sync"
	"github.com/vaultforge/syncd/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// allowedOrigins is the CORS allowlist per spec.md §6. The Obsidian desktop
// client speaks from a custom app:// scheme; the second entry covers local
// development against the default HOST binding.
var allowedOrigins = map[string]bool{
	"app://obsidian.md":      true,
	"http://localhost:3000": true,
}

// Server is the HTTP+WebSocket front end: it owns no state of its own,
// delegating every request to the identity, publish, and sync services it
// was constructed with.
type Server struct {
	http    *http.Server
	engine  *sync.Engine
	ids     *identity.Service
	store   storage.Store
	pub     *publish.Service
	pubRtr  *publish.Router
	cfg     config.Config
	log     zerolog.Logger
}

// NewServer wires an HTTP server around the given services. Start still
// needs to be called to actually listen.
func NewServer(store storage.Store, ids *identity.Service, engine *sync.Engine, pub *publish.Service, pubRtr *publish.Router, cfg config.Config) *Server {
	s := &Server{
		engine: engine,
		ids:    ids,
		store:  store,
		pub:    pub,
		pubRtr: pubRtr,
		cfg:    cfg,
		log:    log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.http = &http.Server{
		Addr:              cfg.Host,
		Handler:           withCORS(withMetrics(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleWebSocket)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/ws.obsidian.md", s.handleWebSocket)

	mux.HandleFunc("/user/signup", s.handleUserSignup)
	mux.HandleFunc("/user/signin", s.handleUserSignin)
	mux.HandleFunc("/user/info", s.handleUserInfo)
	mux.HandleFunc("/user/delete", s.handleUserDelete)

	mux.HandleFunc("/vault/create", s.handleVaultCreate)
	mux.HandleFunc("/vault/list", s.handleVaultList)
	mux.HandleFunc("/vault/access", s.handleVaultAccess)
	mux.HandleFunc("/vault/delete", s.handleVaultDelete)

	mux.HandleFunc("/publish/list", s.handlePublishList)
	mux.HandleFunc("/publish/create", s.handlePublishCreate)
	mux.HandleFunc("/publish/delete", s.handlePublishDelete)

	mux.HandleFunc("/api/slugs", s.handleAPISlugs)
	mux.HandleFunc("/api/site", s.handleAPISite)
	mux.HandleFunc("/api/remove", s.handleAPIRemove)
	mux.HandleFunc("/api/slug", s.handleAPISlug)
	mux.HandleFunc("/api/upload", s.handleAPIUpload)

	mux.Handle("/publish/", s.pubRtr)

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Host).Msg("http server listening")
	metrics.RegisterComponent("api", true, "listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server, waiting up to 10s for in-flight
// HTTP requests. Upgraded WebSocket connections are hijacked, so Shutdown
// neither waits for nor closes them.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and hands it to the session
// engine, which owns the connection for its entire lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.engine.Serve(conn)
}

// --- user ---

type signupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	SignupKey string `json:"signup_key"`
}

func (s *Server) handleUserSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.ids.Signup(req.Email, req.Password, req.Name, req.SignupKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"email": user.Email, "name": user.Name})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleUserSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.ids.Signin(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email":   user.Email,
		"license": user.License,
		"name":    user.Name,
		"token":   token,
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.store.GetUser(email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"email":   user.Email,
		"name":    user.Name,
		"license": user.License,
	})
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ids.DeleteUser(email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// --- vault ---

type vaultCreateRequest struct {
	Token   string `json:"token"`
	Name    string `json:"name"`
	Salt    string `json:"salt"`
	Keyhash string `json:"keyhash"`
}

func (s *Server) handleVaultCreate(w http.ResponseWriter, r *http.Request) {
	var req vaultCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	password := ""
	salt := req.Salt
	keyhash := req.Keyhash
	if salt == "" && keyhash == "" {
		password, err = security.GenerateRandomSecret(20)
		if err != nil {
			writeError(w, errs.Wrap(err, "generate vault password"))
			return
		}
		salt, err = security.GenerateRandomSecret(20)
		if err != nil {
			writeError(w, errs.Wrap(err, "generate vault salt"))
			return
		}
	}

	vault, err := s.store.NewVault(req.Name, email, password, salt, keyhash, s.cfg.MaxStorageBytes())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *Server) handleVaultList(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	owned, err := s.store.GetVaults(email)
	if err != nil {
		writeError(w, err)
		return
	}
	shared, err := s.store.GetSharedVaults(email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": owned, "shared": shared})
}

type vaultAccessRequest struct {
	Token    string `json:"token"`
	VaultUID string `json:"vault_uid"`
	Keyhash  string `json:"keyhash"`
}

func (s *Server) handleVaultAccess(w http.ResponseWriter, r *http.Request) {
	var req vaultAccessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	vault, err := s.store.GetVault(req.VaultUID, req.Keyhash)
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := s.store.HasAccess(vault.ID, email)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := s.store.GetUser(email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed": allowed,
		"email":   email,
		"name":    user.Name,
		"useruid": email,
	})
}

type vaultDeleteRequest struct {
	Token    string `json:"token"`
	VaultUID string `json:"vault_uid"`
}

func (s *Server) handleVaultDelete(w http.ResponseWriter, r *http.Request) {
	var req vaultDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteVault(req.VaultUID, email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- publish ---

type publishListRequest struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

func (s *Server) handlePublishList(w http.ResponseWriter, r *http.Request) {
	var req publishListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		sites, err := s.pub.Sites(email)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sites)
		return
	}
	files, err := s.pub.Files(req.ID, email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handlePublishCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	site, err := s.pub.CreateSite(email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

type publishDeleteRequest struct {
	Token   string `json:"token"`
	SiteUID string `json:"site_uid"`
}

func (s *Server) handlePublishDelete(w http.ResponseWriter, r *http.Request) {
	var req publishDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pub.DeleteSite(req.SiteUID, email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// --- publish management under /api ---

type apiSlugsRequest struct {
	Token string   `json:"token"`
	IDs   []string `json:"ids"`
}

func (s *Server) handleAPISlugs(w http.ResponseWriter, r *http.Request) {
	var req apiSlugsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	result := make(map[string]string, len(req.IDs))
	for _, id := range req.IDs {
		slug, err := s.store.GetSiteSlug(id)
		if err != nil {
			continue
		}
		owner, err := s.store.GetSiteOwner(id)
		if err != nil || owner != email {
			continue
		}
		result[id] = slug
	}
	writeJSON(w, http.StatusOK, result)
}

type apiSiteRequest struct {
	Token string `json:"token"`
	Slug  string `json:"slug"`
}

func (s *Server) handleAPISite(w http.ResponseWriter, r *http.Request) {
	var req apiSiteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.ids.TokenEmail(req.Token); err != nil {
		writeError(w, err)
		return
	}
	site, err := s.store.GetSlug(req.Slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

type apiRemoveRequest struct {
	Token   string `json:"token"`
	SiteUID string `json:"site_uid"`
	Path    string `json:"path"`
}

func (s *Server) handleAPIRemove(w http.ResponseWriter, r *http.Request) {
	var req apiRemoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pub.RemoveFile(req.SiteUID, email, req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

type apiSlugRequest struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Slug  string `json:"slug"`
}

func (s *Server) handleAPISlug(w http.ResponseWriter, r *http.Request) {
	var req apiSlugRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := s.ids.TokenEmail(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.pub.SetSlug(req.ID, req.Slug, email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// handleAPIUpload accepts a raw file body for one published file, per
// spec.md §6's header-carried metadata (no JSON envelope for this one
// endpoint — the body IS the file).
func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("obs-token")
	siteID := r.Header.Get("obs-id")
	hash := r.Header.Get("obs-hash")

	path, err := url.QueryUnescape(r.Header.Get("obs-path"))
	if err != nil {
		writeError(w, errs.Wrap(err, "decode obs-path header"))
		return
	}

	email, err := s.ids.TokenEmail(token)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		writeError(w, errs.Wrap(err, "read upload body"))
		return
	}

	now := time.Now().UnixMilli()
	file := types.PublishFile{
		Path:  path,
		Ctime: now,
		Mtime: now,
		Hash:  hash,
		Size:  int64(len(data)),
		Data:  string(data),
	}
	if err := s.pub.UploadFile(siteID, email, file); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errs.New(errs.InvalidInput, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err's Kind to an HTTP status and renders the
// spec-mandated {detail: "<message>"} body. Internal errors never leak
// their wrapped cause to the caller.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.StatusCode(kind)
	detail := err.Error()
	if kind == errs.Internal {
		detail = "internal error"
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

// withCORS implements spec.md §6's CORS policy: no third-party CORS
// middleware appears anywhere in the retrieved pack, so this is plain
// net/http, same as every other middleware in this server.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics records request count and latency for every route. The
// WebSocket paths are recorded too: their handler runs the whole session
// before returning, so their latency is the session's lifetime.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack hands the WebSocket upgrade through to the wrapped writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
