package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/coordinator"
	"github.com/dokzlo13/indoorsun/internal/entity"
	"github.com/dokzlo13/indoorsun/internal/entries"
	"github.com/dokzlo13/indoorsun/internal/flow"
	"github.com/dokzlo13/indoorsun/internal/registry"
)

const maxRequestBody = 1 << 20

type entryResponse struct {
	registry.EntryStatus
	Snapshot *coordinator.Snapshot `json:"snapshot,omitempty"`
	Entities []string              `json:"entities,omitempty"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	list, err := s.entries.Statuses(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.entries.Status(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := entryResponse{EntryStatus: status}
	if snap, err := s.entries.Snapshot(id); err == nil {
		resp.Snapshot = &snap
	}
	for _, ent := range s.entries.Entities() {
		if ent.State().EntryID == id {
			resp.Entities = append(resp.Entities, ent.ID())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.entries.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshEntry(w http.ResponseWriter, r *http.Request) {
	snap, err := s.entries.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, entries.ErrEntryNotFound) {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "snapshot": snap})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEntryHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.entries.Status(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not recorded")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.history.History(id, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleEntryImage(w http.ResponseWriter, r *http.Request) {
	img, ok := s.entries.ImageEntity(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "image entity is not enabled")
		return
	}
	serveImage(w, r, img)
}

func (s *Server) handleStartOptions(w http.ResponseWriter, r *http.Request) {
	res, err := s.flows.StartOptions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSubmitOptions runs a whole options flow with one request.
func (s *Server) handleSubmitOptions(w http.ResponseWriter, r *http.Request) {
	input, err := readInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.flows.StartOptions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Type != flow.ResultForm {
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err = s.flows.Configure(r.Context(), res.FlowID, input)
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Type == flow.ResultForm {
		// Validation failed; the form stays open under its flow ID.
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	res, err := s.flows.StartSetup(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	res, err := s.flows.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConfigureFlow(w http.ResponseWriter, r *http.Request) {
	input, err := readInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.flows.Configure(r.Context(), r.PathValue("id"), input)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAbortFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.Abort(r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	list := s.entries.Entities()
	out := make([]entity.State, 0, len(list))
	for _, ent := range list {
		out = append(out, ent.State())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ent, ok := s.entries.Entity(r.PathValue("entity_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}

	// Image entities serve the JPEG when asked for it.
	if img, ok := ent.(*entity.ImageEntity); ok && r.URL.Query().Has("raw") {
		serveImage(w, r, img)
		return
	}
	writeJSON(w, http.StatusOK, ent.State())
}

func serveImage(w http.ResponseWriter, r *http.Request, img *entity.ImageEntity) {
	data, updated, ok := img.Image()
	if !ok {
		writeError(w, http.StatusNotFound, "no image available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

// readInput decodes a JSON object body. An empty body is an empty input.
func readInput(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	defer r.Body.Close()

	input := map[string]any{}
	if len(body) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"time":  time.Now().UTC(),
	})
}

// writeErr maps domain errors onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entries.ErrEntryNotFound), errors.Is(err, flow.ErrFlowNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entries.ErrStaticEntry), errors.Is(err, registry.ErrEntryNotLoaded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, flow.ErrUnknownStep):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("API request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
