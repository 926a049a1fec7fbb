/*
Copyright The Capstan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package account

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// HTTPServer exposes the Service.
type HTTPServer struct {
	svc      *Service
	validate *validator.Validate
}

// NewHTTPServer creates the HTTP surface of the Service.
func NewHTTPServer(svc *Service) *HTTPServer {
	return &HTTPServer{svc: svc, validate: validator.New()}
}

// Handler mounts the API under prefix.
func (h *HTTPServer) Handler(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Route(prefix, func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/2fa/enroll", h.handleEnroll)
		r.Post("/2fa/confirm", h.handleConfirm)
		r.Post("/2fa/verify", h.handleVerify)
		r.Post("/2fa/delete", h.handleDelete)
		r.Post("/password", h.handlePassword)
	})
	return r
}

type registerRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	id, err := h.svc.Register(r.Context(), req.Login, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]int64{"account_id": id})
	case errors.Is(err, ErrLoginTaken):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role"`
}

func (h *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.Role == "" {
		req.Role = "employee"
	}
	res, err := h.svc.Login(r.Context(), req.Login, req.Password, req.Role)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrBadCredentials):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type accountRequest struct {
	AccountID int64 `json:"account_id" validate:"required"`
}

func (h *HTTPServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	secret, uri, err := h.svc.EnrollTOTP(r.Context(), req.AccountID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"secret": secret, "uri": uri})
	case errors.Is(err, ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type confirmRequest struct {
	AccountID int64  `json:"account_id" validate:"required"`
	Secret    string `json:"secret" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

func (h *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.writeTOTPResult(w, h.svc.ConfirmTOTP(r.Context(), req.AccountID, req.Secret, req.Code))
}

type codeRequest struct {
	AccountID int64  `json:"account_id" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

func (h *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.writeTOTPResult(w, h.svc.VerifyTOTP(r.Context(), req.AccountID, req.Code))
}

func (h *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.writeTOTPResult(w, h.svc.DeleteTOTP(r.Context(), req.AccountID, req.Code))
}

type passwordRequest struct {
	AccountID   int64  `json:"account_id" validate:"required"`
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *HTTPServer) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	err := h.svc.ChangePassword(r.Context(), req.AccountID, req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
	case errors.Is(err, ErrBadCredentials):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *HTTPServer) writeTOTPResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	case errors.Is(err, ErrBadTOTPCode):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrNotEnrolled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *HTTPServer) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "malformed body")
	}
	return errors.Wrap(h.validate.Struct(v), "invalid body")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"message": err.Error()})
}
