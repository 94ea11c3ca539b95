// Package api exposes the Agent->Broker RPC surface (§6) over REST/JSON,
// grounded on the teacher's internal/api gorilla/mux router: the same
// CORS-middleware-plus-JSON-encoder shape, a shared-secret header in
// place of the teacher's tenant header, and one handler per tool instead
// of per internal microservice.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/bouncer/broker/internal/account"
	"github.com/bouncer/broker/internal/audit"
	"github.com/bouncer/broker/internal/bouncererr"
	"github.com/bouncer/broker/internal/circuitbreaker"
	"github.com/bouncer/broker/internal/classifier"
	"github.com/bouncer/broker/internal/grant"
	"github.com/bouncer/broker/internal/help"
	"github.com/bouncer/broker/internal/metrics"
	"github.com/bouncer/broker/internal/middleware"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/pipeline"
	"github.com/bouncer/broker/internal/store"
	"github.com/bouncer/broker/internal/trust"
	"github.com/bouncer/broker/internal/upload"
)

// Server wires every broker component behind the RPC surface in §6.
type Server struct {
	store      store.Store
	pipeline   *pipeline.Pipeline
	grant      *grant.Manager
	trust      *trust.Manager
	accounts   *account.Manager
	upload     *upload.Manager
	classifier *classifier.Classifier
	audit      audit.Archiver // nil when config.PostgresConfig.Enabled is false
	metrics    *metrics.Metrics
	rateLimit  *middleware.RateLimiter
	breakers   *circuitbreaker.BrokerCircuitBreakers

	sharedSecret   string
	hashedSecret   []byte // bcrypt hash, set when sharedSecret is non-empty
	corsOrigins    []string
	defaultAccount string
}

// Config collects the dependencies NewServer wires into the router. Every
// field besides Store and Pipeline is optional so tests can stand up a
// minimal server.
type Config struct {
	Store        store.Store
	Pipeline     *pipeline.Pipeline
	Grant        *grant.Manager
	Trust        *trust.Manager
	Accounts     *account.Manager
	Upload       *upload.Manager
	Classifier   *classifier.Classifier
	Audit        audit.Archiver
	Metrics      *metrics.Metrics
	RateLimit    *middleware.RateLimiter
	Breakers     *circuitbreaker.BrokerCircuitBreakers
	SharedSecret string
	CORSOrigins  []string
}

// NewServer builds a Server. The shared secret is hashed once with bcrypt
// (grounded on the teacher's internal/multitenancy/tenant_manager.go use
// of bcrypt for credential comparisons) and incoming secrets are compared
// against that hash. The plaintext secret also stays on the Server, for
// the empty-secret check and the constant-time fallback compare.
func NewServer(cfg Config) *Server {
	s := &Server{
		store:        cfg.Store,
		pipeline:     cfg.Pipeline,
		grant:        cfg.Grant,
		trust:        cfg.Trust,
		accounts:     cfg.Accounts,
		upload:       cfg.Upload,
		classifier:   cfg.Classifier,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		rateLimit:    cfg.RateLimit,
		breakers:     cfg.Breakers,
		sharedSecret: cfg.SharedSecret,
		corsOrigins:  cfg.CORSOrigins,
	}
	if s.sharedSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(s.sharedSecret), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("api: failed to hash shared secret, falling back to constant-time compare", "error", err)
		} else {
			s.hashedSecret = hash
		}
	}
	return s
}

// Router builds the mux.Router every tool is registered on.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.corsMiddleware)
	r.Use(s.authMiddleware)
	if s.rateLimit != nil {
		r.Use(s.rateLimit.Middleware)
	}

	r.HandleFunc("/v1/execute", s.handleExecute).Methods("POST")
	r.HandleFunc("/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/v1/get_page", s.handleGetPage).Methods("GET")
	r.HandleFunc("/v1/list_pending", s.handleListPending).Methods("GET")
	r.HandleFunc("/v1/list_safelist", s.handleListSafelist).Methods("GET")
	r.HandleFunc("/v1/help", s.handleHelp).Methods("GET")

	r.HandleFunc("/v1/add_account", s.handleAddAccount).Methods("POST")
	r.HandleFunc("/v1/remove_account", s.handleRemoveAccount).Methods("POST")
	r.HandleFunc("/v1/list_accounts", s.handleListAccounts).Methods("GET")

	r.HandleFunc("/v1/request_grant", s.handleRequestGrant).Methods("POST")
	r.HandleFunc("/v1/grant_status", s.handleGrantStatus).Methods("GET")
	r.HandleFunc("/v1/revoke_grant", s.handleRevokeGrant).Methods("POST")

	r.HandleFunc("/v1/trust_status", s.handleTrustStatus).Methods("GET")
	r.HandleFunc("/v1/trust_revoke", s.handleTrustRevoke).Methods("POST")

	r.HandleFunc("/v1/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/v1/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/v1/upload", s.handleUpload).Methods("POST")
	r.HandleFunc("/v1/upload_batch", s.handleUploadBatch).Methods("POST")
	r.HandleFunc("/v1/request_presigned", s.handleRequestPresigned).Methods("POST")
	r.HandleFunc("/v1/request_presigned_batch", s.handleRequestPresignedBatch).Methods("POST")
	r.HandleFunc("/v1/confirm_upload", s.handleConfirmUpload).Methods("POST")

	if s.metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	return r
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("api: listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// corsMiddleware matches the teacher's permissive dev-mode CORS handling,
// allowing the first configured origin (defaulting to "*"); any further
// configured origins are not used.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := "*"
	if len(s.corsOrigins) > 0 {
		origin = s.corsOrigins[0]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Bouncer-Secret")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const secretHeader = "X-Bouncer-Secret"

// authMiddleware implements §6's "shared secret header (case-insensitive
// lookup)" requirement. http.Header.Get already canonicalizes the header
// name, which is a case-insensitive lookup by construction; the compare
// itself is constant-time via bcrypt/subtle so response timing does not
// leak how many leading bytes matched.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sharedSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get(secretHeader)
		if provided == "" || !s.checkSecret(provided) {
			http.Error(w, `{"status":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkSecret(provided string) bool {
	if s.hashedSecret != nil {
		return bcrypt.CompareHashAndPassword(s.hashedSecret, []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.sharedSecret)) == 1
}

// writeJSON is the teacher's json.NewEncoder(w).Encode(...) pattern,
// extracted so every handler shares one error-logging path.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"status": "error", "error": message})
}

// statusFor maps a pipeline error onto the taxonomy §7 defines, falling
// back to 500 for anything bouncererr cannot classify.
func statusFor(err error) (int, string) {
	tag := bouncererr.Status(err)
	switch tag {
	case "blocked", "denied", "timeout", "rate_limit_exceeded", "pending_limit_exceeded":
		return http.StatusOK, tag // these are business outcomes, not transport errors
	default:
		return http.StatusInternalServerError, tag
	}
}

// --- execute / status / get_page / list_pending / list_safelist / help ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command   string `json:"command"`
		TrustScope string `json:"trust_scope"`
		Reason    string `json:"reason"`
		Source    string `json:"source"`
		Account   string `json:"account"`
		Context   string `json:"context"`
		Sync      bool   `json:"sync"`
		GrantID   string `json:"grant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	source := body.Source
	if source == "" {
		source = body.TrustScope
	}

	req, err := s.pipeline.Execute(r.Context(), pipeline.ExecuteInput{
		Command:   body.Command,
		Reason:    body.Reason,
		Source:    source,
		AccountID: body.Account,
		Context:   body.Context,
		Sync:      body.Sync,
		GrantID:   body.GrantID,
	})
	if err != nil {
		code, tag := statusFor(err)
		writeJSON(w, code, map[string]interface{}{"status": tag, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "request": req})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	req, err := s.store.GetRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "request": req})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	pageStr := r.URL.Query().Get("page")
	page, _ := strconv.Atoi(pageStr)
	out, err := s.store.GetOutputPage(r.Context(), requestID, page)
	if err != nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "page": out})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	var (
		rows []*model.Request
		err  error
	)
	if source != "" {
		rows, err = s.store.ListBySource(r.Context(), source, limit)
	} else {
		rows, err = s.store.ListPending(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "requests": rows})
}

func (s *Server) handleListSafelist(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeError(w, http.StatusInternalServerError, "classifier not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tables": s.classifier.Tables()})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	command := r.URL.Query().Get("command")
	if command == "" {
		command = r.URL.Query().Get("service")
	}
	op, wf, similar := help.Lookup(command)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"text":   help.FormatText(op, wf, similar, command),
	})
}

// --- account management (mutations gated behind chat approval) ---

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID string `json:"account_id"`
		Name      string `json:"name"`
		RoleARN   string `json:"role_arn"`
		Region    string `json:"region"`
		Source    string `json:"source"`
		Context   string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := s.accounts.RequestAdd(r.Context(), body.AccountID, body.Name, body.RoleARN, body.Region)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "pending_approval",
		"account": acct,
	})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := s.accounts.RequestRemove(r.Context(), body.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "pending_approval",
		"account": acct,
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "accounts": accts})
}

// --- grant sessions ---

func (s *Server) handleRequestGrant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Commands           []string `json:"commands"`
		Reason             string   `json:"reason"`
		Source             string   `json:"source"`
		Account            string   `json:"account"`
		TTLMinutes         int      `json:"ttl_minutes"`
		AllowRepeat        bool     `json:"allow_repeat"`
		ApprovalMode       string   `json:"approval_mode"`
		MaxTotalExecutions int      `json:"max_total_executions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TTLMinutes > 60 {
		writeError(w, http.StatusBadRequest, "ttl_minutes must be <= 60")
		return
	}
	mode := model.ApprovalMode(body.ApprovalMode)
	if mode == "" {
		mode = model.ApprovalSafeOnly
	}
	gs, err := s.grant.Create(r.Context(), body.Source, body.Account, body.Reason, body.Commands, mode, body.AllowRepeat, body.MaxTotalExecutions, body.TTLMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "pending_approval", "grant": gs})
}

func (s *Server) handleGrantStatus(w http.ResponseWriter, r *http.Request) {
	grantID := r.URL.Query().Get("grant_id")
	source := r.URL.Query().Get("source")
	gs, err := s.grant.Get(r.Context(), grantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "grant not found")
		return
	}
	if gs.Source != source {
		writeError(w, http.StatusForbidden, "source does not match grant creator")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "grant": gs})
}

func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GrantID string `json:"grant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.grant.Revoke(r.Context(), body.GrantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// --- trust sessions ---

func (s *Server) handleTrustStatus(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	account := r.URL.Query().Get("account")
	ts, err := s.trust.Lookup(r.Context(), source, account)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "trust_session": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "trust_session": ts})
}

func (s *Server) handleTrustRevoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TrustID string `json:"trust_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.trust.Revoke(r.Context(), body.TrustID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// --- history / stats (AuditLog archive) ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "entries": []interface{}{}, "note": "audit archive disabled"})
		return
	}
	filter := filterFromQuery(r)
	entries, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "entries": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "total": 0, "note": "audit archive disabled"})
		return
	}
	filter := filterFromQuery(r)
	entries, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit archive")
		return
	}
	byAction := map[string]int{}
	for _, e := range entries {
		byAction[e.Action]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"total":     len(entries),
		"by_action": byAction,
	})
}

// handleHealth reports the state of each outbound dependency breaker
// (chat, postgres, executor). Absent a wired breaker set the endpoint
// still answers 200 with an empty breaker map, since health checks
// should never themselves become a point of failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.breakers == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "HEALTHY", "breakers": map[string]string{}})
		return
	}
	status, breakers := s.breakers.HealthStatus()
	code := http.StatusOK
	if status != "HEALTHY" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "breakers": breakers})
}

func filterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	hours, _ := strconv.Atoi(q.Get("hours"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("page_token"))
	return audit.Filter{
		Source:    q.Get("source"),
		AccountID: q.Get("account_id"),
		Action:    q.Get("action"),
		Status:    q.Get("status"),
		Hours:     hours,
		Limit:     limit,
		Offset:    offset,
	}
}

// --- upload surface ---

// pipelineAdapter narrows *pipeline.Pipeline to upload.PipelineExecutor.
type pipelineAdapter struct {
	p *pipeline.Pipeline
}

func (a pipelineAdapter) Execute(ctx context.Context, in upload.PipelineInput) (*model.Request, error) {
	return a.p.Execute(ctx, pipeline.ExecuteInput{
		Command:   in.Command,
		Reason:    in.Reason,
		Source:    in.Source,
		AccountID: in.AccountID,
		Context:   in.Context,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
		Reason   string `json:"reason"`
		Source   string `json:"source"`
		Account  string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := s.upload.UploadSmall(r.Context(), pipelineAdapter{s.pipeline}, body.Filename, body.Content, body.Reason, body.Source, body.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "request": req})
}

func (s *Server) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []struct {
			Filename string `json:"filename"`
			Content  string `json:"content"`
		} `json:"files"`
		Reason  string `json:"reason"`
		Source  string `json:"source"`
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	results := make([]*model.Request, 0, len(body.Files))
	for _, f := range body.Files {
		req, err := s.upload.UploadSmall(r.Context(), pipelineAdapter{s.pipeline}, f.Filename, f.Content, body.Reason, body.Source, body.Account)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", f.Filename, err.Error()))
			return
		}
		results = append(results, req)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "requests": results})
}

func (s *Server) handleRequestPresigned(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename  string `json:"filename"`
		Source    string `json:"source"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	url, batchID, err := s.upload.RequestPresigned(r.Context(), body.Filename, body.Source, body.ExpiresIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "url": url, "batch_id": batchID})
}

func (s *Server) handleRequestPresignedBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Files []struct {
			Filename    string `json:"filename"`
			ContentType string `json:"content_type"`
		} `json:"files"`
		Source    string `json:"source"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	files := make([]upload.FileRequest, 0, len(body.Files))
	for _, f := range body.Files {
		files = append(files, upload.FileRequest{Filename: f.Filename, ContentType: f.ContentType})
	}
	urls, err := s.upload.RequestPresignedBatch(r.Context(), files, body.Source, body.ExpiresIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "urls": urls})
}

func (s *Server) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BatchID string `json:"batch_id"`
		Source  string `json:"source"`
		Files   []struct {
			S3Key string `json:"s3_key"`
		} `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	keys := make([]string, 0, len(body.Files))
	for _, f := range body.Files {
		keys = append(keys, f.S3Key)
	}
	result, err := s.upload.Confirm(r.Context(), body.BatchID, body.Source, keys)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "result": result})
}
