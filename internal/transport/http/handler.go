// Package transporthttp exposes the protocol engine over HTTP. Handlers
// stay thin: decode, delegate to a service, translate coded errors.
package transporthttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"protokoll/internal/protocol/models"
	"protokoll/internal/protocol/timebank"
	"protokoll/internal/protocol/tzd"
	dErrors "protokoll/pkg/domain-errors"
	"protokoll/pkg/platform/httputil"
)

// InstructionService is the directive surface.
type InstructionService interface {
	Current(ctx context.Context, period models.PeriodID) (*models.DailyInstruction, error)
	Generate(ctx context.Context, period models.PeriodID) (*models.DailyInstruction, error)
	Accept(ctx context.Context, period models.PeriodID, account models.Account, reduceMinutes int) (*models.DailyInstruction, error)
}

// LockService is the TZD surface.
type LockService interface {
	Status(ctx context.Context) (tzd.Status, error)
	Acknowledge(ctx context.Context) (tzd.Status, error)
	CheckIn(ctx context.Context) (tzd.Status, error)
	RegisterAppOpen(ctx context.Context) error
	Abort(ctx context.Context) error
	Suspend(ctx context.Context) error
}

// LedgerService is the time bank surface.
type LedgerService interface {
	Balance(ctx context.Context) models.TimeBankAccount
	Earn(ctx context.Context, account models.Account, minutes int, flags timebank.EarnFlags) (int, error)
	Spend(ctx context.Context, account models.Account, minutes int) (int, error)
}

// PunishmentService is the punishment record surface.
type PunishmentService interface {
	Current(ctx context.Context) (models.PunishmentRecord, error)
	Clear(ctx context.Context) error
}

// SettingsService reads and updates the operator settings.
type SettingsService interface {
	Settings(ctx context.Context) (models.Settings, error)
	Update(ctx context.Context, cfg models.Settings) error
}

// OverlayGate toggles the fast check-in loop.
type OverlayGate interface {
	SetOverlayActive(active bool)
}

// Handler wires the protocol endpoints to their services.
type Handler struct {
	instructions InstructionService
	lock         LockService
	ledger       LedgerService
	punishments  PunishmentService
	settings     SettingsService
	overlay      OverlayGate
	logger       *slog.Logger
	now          nowFunc
}

type nowFunc = func() models.PeriodID

// New constructs the handler. currentPeriod resolves which period an
// undated request refers to.
func New(instructions InstructionService, lock LockService, ledger LedgerService, punishments PunishmentService, settings SettingsService, overlay OverlayGate, logger *slog.Logger, currentPeriod func() models.PeriodID) *Handler {
	return &Handler{
		instructions: instructions,
		lock:         lock,
		ledger:       ledger,
		punishments:  punishments,
		settings:     settings,
		overlay:      overlay,
		logger:       logger,
		now:          currentPeriod,
	}
}

// Register mounts the protocol endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/protocol/instruction", h.HandleInstruction)
	r.Post("/protocol/instruction/generate", h.HandleGenerate)
	r.Post("/protocol/instruction/accept", h.HandleAccept)

	r.Get("/protocol/tzd", h.HandleLockStatus)
	r.Post("/protocol/tzd/ack", h.HandleLockAck)
	r.Post("/protocol/tzd/checkin", h.HandleLockCheckIn)
	r.Post("/protocol/tzd/app-open", h.HandleLockAppOpen)
	r.Post("/protocol/tzd/abort", h.HandleLockAbort)
	r.Post("/protocol/tzd/suspend", h.HandleLockSuspend)

	r.Get("/protocol/balance", h.HandleBalance)
	r.Post("/protocol/earn", h.HandleEarn)
	r.Post("/protocol/spend", h.HandleSpend)

	r.Get("/protocol/punishment", h.HandlePunishment)
	r.Post("/protocol/punishment/clear", h.HandlePunishmentClear)

	r.Get("/protocol/settings", h.HandleSettings)
	r.Put("/protocol/settings", h.HandleSettingsUpdate)

	r.Post("/protocol/overlay", h.HandleOverlay)
}

// period resolves the period from the optional query parameter, falling
// back to the current wall-clock period.
func (h *Handler) period(r *http.Request) models.PeriodID {
	if p := r.URL.Query().Get("period"); p != "" {
		return models.PeriodID(p)
	}
	return h.now()
}

// HandleInstruction handles GET /protocol/instruction.
func (h *Handler) HandleInstruction(w http.ResponseWriter, r *http.Request) {
	instr, err := h.instructions.Current(r.Context(), h.period(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if instr == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"instruction": nil})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"instruction": instr})
}

// HandleGenerate handles POST /protocol/instruction/generate.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	instr, err := h.instructions.Generate(r.Context(), h.period(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "instruction generation failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if instr == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"instruction": nil})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"instruction": instr})
}

type acceptRequest struct {
	Period        string `json:"period"`
	Account       string `json:"account"`
	ReduceMinutes int    `json:"reduceMinutes"`
}

// HandleAccept handles POST /protocol/instruction/accept.
func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[acceptRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	period := h.now()
	if req.Period != "" {
		period = models.PeriodID(req.Period)
	}
	account := models.AccountNC
	if req.Account != "" {
		account = models.Account(req.Account)
		if !account.Valid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown account"))
			return
		}
	}

	instr, err := h.instructions.Accept(r.Context(), period, account, req.ReduceMinutes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"instruction": instr})
}

// HandleLockStatus handles GET /protocol/tzd.
func (h *Handler) HandleLockStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.lock.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleLockAck handles POST /protocol/tzd/ack.
func (h *Handler) HandleLockAck(w http.ResponseWriter, r *http.Request) {
	status, err := h.lock.Acknowledge(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleLockCheckIn handles POST /protocol/tzd/checkin.
func (h *Handler) HandleLockCheckIn(w http.ResponseWriter, r *http.Request) {
	status, err := h.lock.CheckIn(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleLockAppOpen handles POST /protocol/tzd/app-open.
func (h *Handler) HandleLockAppOpen(w http.ResponseWriter, r *http.Request) {
	if err := h.lock.RegisterAppOpen(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLockAbort handles POST /protocol/tzd/abort.
func (h *Handler) HandleLockAbort(w http.ResponseWriter, r *http.Request) {
	if err := h.lock.Abort(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLockSuspend handles POST /protocol/tzd/suspend.
func (h *Handler) HandleLockSuspend(w http.ResponseWriter, r *http.Request) {
	if err := h.lock.Suspend(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBalance handles GET /protocol/balance.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.ledger.Balance(r.Context()))
}

type earnRequest struct {
	Account    string `json:"account"`
	Minutes    int    `json:"minutes"`
	Punitive   bool   `json:"punitive"`
	Forced     bool   `json:"forced"`
	LossDriven bool   `json:"lossDriven"`
}

// HandleEarn handles POST /protocol/earn.
func (h *Handler) HandleEarn(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[earnRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account := models.Account(req.Account)
	if !account.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown account"))
		return
	}

	flags := timebank.EarnFlags{Punitive: req.Punitive, Forced: req.Forced, LossDriven: req.LossDriven}
	credited, err := h.ledger.Earn(r.Context(), account, req.Minutes, flags)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"credited": credited})
}

type spendRequest struct {
	Account string `json:"account"`
	Minutes int    `json:"minutes"`
}

// HandleSpend handles POST /protocol/spend.
func (h *Handler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[spendRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account := models.Account(req.Account)
	if !account.Valid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown account"))
		return
	}

	charged, err := h.ledger.Spend(r.Context(), account, req.Minutes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"charged": charged})
}

// HandlePunishment handles GET /protocol/punishment.
func (h *Handler) HandlePunishment(w http.ResponseWriter, r *http.Request) {
	record, err := h.punishments.Current(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandlePunishmentClear handles POST /protocol/punishment/clear.
func (h *Handler) HandlePunishmentClear(w http.ResponseWriter, r *http.Request) {
	if err := h.punishments.Clear(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSettings handles GET /protocol/settings.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Settings(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

// HandleSettingsUpdate handles PUT /protocol/settings.
func (h *Handler) HandleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	cfg, err := httputil.Decode[models.Settings](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.settings.Update(r.Context(), cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

type overlayRequest struct {
	Active bool `json:"active"`
}

// HandleOverlay handles POST /protocol/overlay.
func (h *Handler) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.Decode[overlayRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.overlay.SetOverlayActive(req.Active)
	w.WriteHeader(http.StatusNoContent)
}
