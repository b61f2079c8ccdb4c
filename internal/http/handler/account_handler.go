package handler

import (
	"log/slog"
	"net/http"

	"github.com/portalsso/sso-server/internal/http/middleware"
	"github.com/portalsso/sso-server/internal/http/response"
	"github.com/portalsso/sso-server/internal/service"
)

type AccountHandler struct {
	accounts service.AccountServiceInterface
	logger   *slog.Logger
}

func NewAccountHandler(accounts service.AccountServiceInterface, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	response.JSON(w, r, http.StatusOK, account)
}

func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in service.UpdateAccountInput
	if err := decodeJSON(r, &in); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	in.Normalize()
	if err := validateRequest(&in); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	account, err := h.accounts.UpdateAccount(r.Context(), userID, in)
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	response.JSON(w, r, http.StatusOK, account)
}

func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in service.ChangePasswordInput
	if err := decodeAndValidate(r, &in); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	if err := h.accounts.ChangePassword(r.Context(), userID, in); err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *AccountHandler) MyApps(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	apps, err := h.accounts.MyApps(r.Context(), userID)
	if err != nil {
		response.WriteError(w, r, err, h.logger)
		return
	}
	response.JSON(w, r, http.StatusOK, apps)
}

func (h *AccountHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
		return "", false
	}
	return user.ID, true
}
