package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"account-humanizer/internal/domain"
	"account-humanizer/internal/usecase/activity"
	"account-humanizer/internal/usecase/humanizer"
	"account-humanizer/internal/usecase/login"
	"account-humanizer/internal/usecase/registry"
	"account-humanizer/internal/usecase/settings"
)

// AITester проверяет пригодность AI-ключа.
type AITester interface {
	TestAICredential(ctx context.Context, key string) (bool, string)
}

// PlatformDeps — зависимости одной платформы.
type PlatformDeps struct {
	Registry *registry.Service
	Engine   *humanizer.Engine
}

// Handler — HTTP-поверхность для UI. Хендшейки логина живут в памяти
// процесса и адресуются выданными flowId.
type Handler struct {
	platforms map[domain.Platform]PlatformDeps
	remote    domain.RemoteAccountService
	activity  *activity.Log
	settings  *settings.Service
	ai        AITester
	log       zerolog.Logger

	mu       sync.Mutex
	otpFlows map[string]*login.OTPFlow
	qrFlows  map[string]*login.QRFlow
}

// NewHandler создаёт поверхность API.
func NewHandler(
	platforms map[domain.Platform]PlatformDeps,
	remote domain.RemoteAccountService,
	activityLog *activity.Log,
	settingsSvc *settings.Service,
	ai AITester,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		platforms: platforms,
		remote:    remote,
		activity:  activityLog,
		settings:  settingsSvc,
		ai:        ai,
		log:       logger,
		otpFlows:  map[string]*login.OTPFlow{},
		qrFlows:   map[string]*login.QRFlow{},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Mount вешает маршруты на роутер.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/{platform}", func(r chi.Router) {
			r.Get("/accounts", h.handleListAccounts)
			r.Delete("/accounts/{id}", h.handleDeleteAccount)
			r.Post("/accounts/{id}/enabled", h.handleSetEnabled)
			r.Post("/accounts/{id}/humanized", h.handleSetHumanized)
			r.Post("/accounts/{id}/daily_limit", h.handleSetDailyLimit)
			r.Post("/accounts/{id}/proxy", h.handleSetProxy)
			r.Post("/accounts/{id}/refresh", h.handleRefresh)

			r.Post("/login/send_code", h.handleSendCode)
			r.Post("/login/submit_code", h.handleSubmitCode)
			r.Post("/login/submit_password", h.handleSubmitPassword)

			r.Post("/login/qr/start", h.handleQRStart)
			r.Get("/login/qr/{flowID}", h.handleQRSnapshot)
			r.Post("/login/qr/{flowID}/confirm", h.handleQRConfirm)
			r.Delete("/login/qr/{flowID}", h.handleQRCancel)
		})

		r.Get("/activity", h.handleActivityList)
		r.Delete("/activity", h.handleActivityClear)

		r.Get("/humanization", h.handleHumanizationGet)
		r.Put("/humanization", h.handleHumanizationPut)

		r.Post("/proxy/test", h.handleProxyTest)
		r.Post("/ai/test", h.handleAITest)

		r.Get("/credentials", h.handleCredentialsGet)
		r.Put("/credentials", h.handleCredentialsPut)
	})
}

func (h *Handler) deps(w http.ResponseWriter, r *http.Request) (PlatformDeps, bool) {
	platform := domain.Platform(chi.URLParam(r, "platform"))
	deps, ok := h.platforms[platform]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_platform", "unknown platform")
		return PlatformDeps{}, false
	}
	return deps, true
}

// --- Аккаунты ---

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Registry.List())
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	if err := deps.Registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Value bool `json:"value"`
}

func (h *Handler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	account, err := deps.Registry.SetEnabled(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) handleSetHumanized(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	account, err := deps.Registry.SetHumanized(r.Context(), chi.URLParam(r, "id"), req.Value)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type dailyLimitRequest struct {
	DailyLimit int `json:"dailyLimit"`
}

func (h *Handler) handleSetDailyLimit(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req dailyLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	account, err := deps.Registry.SetDailyLimit(r.Context(), chi.URLParam(r, "id"), req.DailyLimit)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type proxyRequest struct {
	Proxy *domain.Proxy `json:"proxy"`
}

func (h *Handler) handleSetProxy(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	account, err := deps.Registry.SetProxy(r.Context(), chi.URLParam(r, "id"), req.Proxy)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	// Смена прокси сразу перепроверяет аккаунт.
	h.scheduleRefresh(deps.Registry, account.ID)
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	account, err := deps.Registry.RefreshStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) scheduleRefresh(reg *registry.Service, id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := reg.RefreshStatus(ctx, id); err != nil {
			h.log.Warn().Err(err).Str("id", id).Msg("api: не удалось перепроверить аккаунт")
		}
	}()
}

// --- OTP-хендшейк ---

type sendCodeRequest struct {
	Phone string        `json:"phone"`
	Proxy *domain.Proxy `json:"proxy,omitempty"`
}

type otpFlowResponse struct {
	FlowID string         `json:"flowId"`
	State  login.OTPState `json:"state"`
	Done   bool           `json:"done,omitempty"`
}

func (h *Handler) handleSendCode(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	creds := h.settings.Credentials()
	if deps.Registry.Platform() == domain.PlatformTelegram && !creds.Configured() {
		writeError(w, http.StatusBadRequest, "credentials_missing", "API ID and API Hash cannot be empty.")
		return
	}

	flow := login.NewOTPFlow(creds, h.remote, deps.Registry, h.log)
	if err := flow.SubmitPhone(r.Context(), req.Phone, req.Proxy); err != nil {
		writeError(w, http.StatusBadRequest, "send_code_failed", err.Error())
		return
	}

	flowID := uuid.NewString()
	h.mu.Lock()
	h.otpFlows[flowID] = flow
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, otpFlowResponse{FlowID: flowID, State: flow.State()})
}

func (h *Handler) otpFlow(w http.ResponseWriter, flowID string) (*login.OTPFlow, bool) {
	h.mu.Lock()
	flow, ok := h.otpFlows[flowID]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "flow_not_found", "login flow not found")
		return nil, false
	}
	return flow, true
}

type submitCodeRequest struct {
	FlowID string `json:"flowId"`
	OTP    string `json:"otp"`
}

func (h *Handler) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps(w, r); !ok {
		return
	}
	var req submitCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	flow, ok := h.otpFlow(w, req.FlowID)
	if !ok {
		return
	}
	done, err := flow.SubmitCode(r.Context(), req.OTP)
	if err != nil {
		writeLoginError(w, err)
		return
	}
	if done {
		h.dropOTPFlow(req.FlowID)
	}
	writeJSON(w, http.StatusOK, otpFlowResponse{FlowID: req.FlowID, State: flow.State(), Done: done})
}

type submitPasswordRequest struct {
	FlowID   string `json:"flowId"`
	Password string `json:"password"`
}

func (h *Handler) handleSubmitPassword(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps(w, r); !ok {
		return
	}
	var req submitPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	flow, ok := h.otpFlow(w, req.FlowID)
	if !ok {
		return
	}
	if err := flow.SubmitPassword(r.Context(), req.Password); err != nil {
		writeLoginError(w, err)
		return
	}
	h.dropOTPFlow(req.FlowID)
	writeJSON(w, http.StatusOK, otpFlowResponse{FlowID: req.FlowID, State: flow.State(), Done: true})
}

func (h *Handler) dropOTPFlow(flowID string) {
	h.mu.Lock()
	delete(h.otpFlows, flowID)
	h.mu.Unlock()
}

// --- QR-хендшейк ---

type qrStartRequest struct {
	Phone string        `json:"phone,omitempty"`
	Proxy *domain.Proxy `json:"proxy,omitempty"`
}

type qrFlowResponse struct {
	FlowID string `json:"flowId"`
	login.Snapshot
}

func (h *Handler) handleQRStart(w http.ResponseWriter, r *http.Request) {
	deps, ok := h.deps(w, r)
	if !ok {
		return
	}
	var req qrStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if deps.Registry.Platform() == domain.PlatformTelegram && !h.settings.Credentials().Configured() {
		writeError(w, http.StatusBadRequest, "credentials_missing", "API ID and API Hash are required.")
		return
	}

	flow := login.NewQRFlow(h.remote, deps.Registry, h.log)
	if err := flow.Start(r.Context(), req.Phone, req.Proxy); err != nil {
		writeError(w, http.StatusBadGateway, "qr_start_failed", err.Error())
		return
	}

	flowID := uuid.NewString()
	h.mu.Lock()
	h.qrFlows[flowID] = flow
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, qrFlowResponse{FlowID: flowID, Snapshot: flow.Snapshot()})
}

func (h *Handler) qrFlow(w http.ResponseWriter, r *http.Request) (*login.QRFlow, string, bool) {
	flowID := chi.URLParam(r, "flowID")
	h.mu.Lock()
	flow, ok := h.qrFlows[flowID]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "flow_not_found", "login flow not found")
		return nil, "", false
	}
	return flow, flowID, true
}

func (h *Handler) handleQRSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps(w, r); !ok {
		return
	}
	flow, flowID, ok := h.qrFlow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, qrFlowResponse{FlowID: flowID, Snapshot: flow.Snapshot()})
}

func (h *Handler) handleQRConfirm(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps(w, r); !ok {
		return
	}
	flow, flowID, ok := h.qrFlow(w, r)
	if !ok {
		return
	}
	err := flow.Confirm(r.Context())
	switch {
	case err == nil:
		h.dropQRFlow(flowID)
		writeJSON(w, http.StatusOK, qrFlowResponse{FlowID: flowID, Snapshot: flow.Snapshot()})
	case errors.Is(err, login.ErrSessionExpired):
		// Сессия уже перевыпущена, клиент показывает новый QR.
		writeJSON(w, http.StatusConflict, qrFlowResponse{FlowID: flowID, Snapshot: flow.Snapshot()})
	case errors.Is(err, login.ErrFlowClosed):
		writeError(w, http.StatusGone, "flow_closed", err.Error())
	case errors.Is(err, login.ErrUnexpectedStep):
		writeError(w, http.StatusConflict, "unexpected_step", err.Error())
	default:
		writeLoginError(w, err)
	}
}

func (h *Handler) handleQRCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps(w, r); !ok {
		return
	}
	flow, flowID, ok := h.qrFlow(w, r)
	if !ok {
		return
	}
	flow.Close()
	h.dropQRFlow(flowID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dropQRFlow(flowID string) {
	h.mu.Lock()
	delete(h.qrFlows, flowID)
	h.mu.Unlock()
}

// --- Журнал активности ---

func (h *Handler) handleActivityList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.activity.Entries())
}

func (h *Handler) handleActivityClear(w http.ResponseWriter, r *http.Request) {
	h.activity.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// --- Настройки гуманизации ---

func (h *Handler) handleHumanizationGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Humanization())
}

func (h *Handler) handleHumanizationPut(w http.ResponseWriter, r *http.Request) {
	var cfg domain.HumanizationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	saved, err := h.settings.SaveHumanization(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	for _, deps := range h.platforms {
		deps.Engine.Apply(saved)
	}
	writeJSON(w, http.StatusOK, saved)
}

// --- Проверки прокси и AI-ключа ---

func (h *Handler) handleProxyTest(w http.ResponseWriter, r *http.Request) {
	var proxy domain.Proxy
	if err := json.NewDecoder(r.Body).Decode(&proxy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, h.remote.TestProxy(r.Context(), &proxy))
}

type aiTestRequest struct {
	APIKey string `json:"apiKey"`
}

type aiTestResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *Handler) handleAITest(w http.ResponseWriter, r *http.Request) {
	var req aiTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ok, message := h.ai.TestAICredential(r.Context(), req.APIKey)
	writeJSON(w, http.StatusOK, aiTestResponse{Success: ok, Message: message})
}

// --- Учётные данные платформенного API ---

func (h *Handler) handleCredentialsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Credentials())
}

func (h *Handler) handleCredentialsPut(w http.ResponseWriter, r *http.Request) {
	var creds domain.APICredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !creds.Configured() {
		writeError(w, http.StatusBadRequest, "invalid_credentials", "API ID and API Hash cannot be empty.")
		return
	}
	h.settings.SaveCredentials(r.Context(), creds)
	writeJSON(w, http.StatusOK, creds)
}

// --- Хелперы ---

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, registry.ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "duplicate_phone", err.Error())
	case errors.Is(err, registry.ErrInvalidDailyLimit), errors.Is(err, registry.ErrIncompleteProxy):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, login.ErrUnexpectedStep):
		writeError(w, http.StatusConflict, "unexpected_step", err.Error())
	case errors.Is(err, registry.ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "duplicate_phone", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "login_failed", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
