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

package authz

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Cookie names the platform agrees on.
const (
	AccessCookie  = "Access-Token"
	RefreshCookie = "Refresh-Token"
)

// HTTPServer exposes the Service.
type HTTPServer struct {
	svc          *Service
	validate     *validator.Validate
	cookieDomain string
}

// NewHTTPServer creates the HTTP surface of the Service.
func NewHTTPServer(svc *Service, cookieDomain string) *HTTPServer {
	return &HTTPServer{svc: svc, validate: validator.New(), cookieDomain: cookieDomain}
}

// Handler mounts the API under prefix.
func (h *HTTPServer) Handler(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Route(prefix, func(r chi.Router) {
		r.Post("/", h.handleIssue(false))
		r.Post("/tg", h.handleIssue(true))
		r.Get("/check", h.handleCheck)
		r.Post("/refresh", h.handleRefresh)
	})
	return r
}

type issueRequest struct {
	AccountID   int64  `json:"account_id" validate:"required"`
	TwoFAStatus bool   `json:"two_fa_status"`
	Role        string `json:"role" validate:"required"`
}

func (h *HTTPServer) handleIssue(long bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req issueRequest
		if err := h.decode(r, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		issue := h.svc.Issue
		if long {
			issue = h.svc.IssueLong
		}
		pair, err := issue(r.Context(), req.AccountID, req.TwoFAStatus, req.Role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.setCookies(w, pair)
		writeJSON(w, http.StatusOK, pair)
	}
}

type checkResponse struct {
	AccountID   int64  `json:"account_id"`
	TwoFAStatus bool   `json:"two_fa_status"`
	Role        string `json:"role"`
	Message     string `json:"message"`
}

func (h *HTTPServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(AccessCookie)
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "token invalid"})
		return
	}
	claims, err := h.svc.Check(cookie.Value)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, checkResponse{
			AccountID:   claims.AccountID,
			TwoFAStatus: claims.TwoFAStatus,
			Role:        claims.Role,
			Message:     "token is valid",
		})
	case errors.Is(err, ErrTokenExpired):
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "token expired"})
	default:
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "token invalid"})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken == "" {
		if cookie, err := r.Cookie(RefreshCookie); err == nil {
			req.RefreshToken = cookie.Value
		}
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("refresh_token is required"))
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		h.setCookies(w, pair)
		writeJSON(w, http.StatusOK, pair)
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshMismatch), errors.Is(err, ErrNoRefreshToken):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *HTTPServer) setCookies(w http.ResponseWriter, pair TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name: AccessCookie, Value: pair.AccessToken,
		Domain: h.cookieDomain, Path: "/", Expires: time.Now().Add(AccessTTL),
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name: RefreshCookie, Value: pair.RefreshToken,
		Domain: h.cookieDomain, Path: "/", Expires: time.Now().Add(LongRefreshTTL),
		HttpOnly: true,
	})
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
