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

// Package intake exposes the release engine over HTTP to CI callbacks and
// to the rollback plans running on the production host. All state changes
// funnel through pkg/action; the handlers translate wire shapes and status
// codes only.
package intake

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"capstan.sh/capstan/pkg/action"
	"capstan.sh/capstan/pkg/release"
	"capstan.sh/capstan/pkg/storage/driver"
)

// Schema bootstraps and tears down the release tables. The SQL storage
// driver implements it; the memory driver is wired with a no-op.
type Schema interface {
	EnsureTables() error
	DropTables() error
}

// NopSchema satisfies Schema for drivers without one.
type NopSchema struct{}

func (NopSchema) EnsureTables() error { return nil }
func (NopSchema) DropTables() error   { return nil }

// Server is the intake HTTP API.
type Server struct {
	cfg      *action.Configuration
	schema   Schema
	validate *validator.Validate
	log      *logrus.Logger
}

// NewServer creates an intake server over the given engine configuration.
func NewServer(cfg *action.Configuration, schema Schema, log *logrus.Logger) *Server {
	if schema == nil {
		schema = NopSchema{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		cfg:      cfg,
		schema:   schema,
		validate: validator.New(),
		log:      log,
	}
}

// Handler mounts the API under prefix and returns the root handler.
func (s *Server) Handler(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PATCH"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route(prefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/release", s.handleCreate)
		r.Patch("/release", s.handleUpdate)
		r.Get("/table/create", s.handleTableCreate)
		r.Get("/table/drop", s.handleTableDrop)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createRequest struct {
	ServiceName  string `json:"service_name" validate:"required"`
	ReleaseTag   string `json:"release_tag" validate:"required"`
	InitiatedBy  string `json:"initiated_by"`
	CIRunID      string `json:"ci_run_id"`
	CIActionLink string `json:"ci_action_link"`
	CIRef        string `json:"ci_ref"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	create := action.NewCreate(s.cfg)
	create.ServiceName = req.ServiceName
	create.ReleaseTag = req.ReleaseTag
	create.InitiatedBy = req.InitiatedBy
	create.CIRunID = req.CIRunID
	create.CIActionLink = req.CIActionLink
	create.CIRef = req.CIRef

	id, err := create.Run()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"release_id": id})
}

type updateRequest struct {
	ReleaseID     int64   `json:"release_id" validate:"required"`
	Status        *string `json:"status"`
	CIRunID       *string `json:"ci_run_id"`
	CIActionLink  *string `json:"ci_action_link"`
	RollbackToTag *string `json:"rollback_to_tag"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	update := action.NewUpdate(s.cfg)
	if req.Status != nil {
		st := release.Status(*req.Status)
		update.Status = &st
	}
	update.CIRunID = req.CIRunID
	update.CIActionLink = req.CIActionLink
	update.RollbackToTag = req.RollbackToTag

	switch err := update.Run(req.ReleaseID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
	case errors.Is(err, driver.ErrReleaseNotFound):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, release.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleTableCreate(w http.ResponseWriter, _ *http.Request) {
	if err := s.schema.EnsureTables(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tables created"})
}

func (s *Server) handleTableDrop(w http.ResponseWriter, _ *http.Request) {
	if err := s.schema.DropTables(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tables dropped"})
}

// decode unmarshals and validates a JSON request body.
func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "malformed body")
	}
	if err := s.validate.Struct(v); err != nil {
		return errors.Wrap(err, "invalid body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"message": err.Error()})
}
