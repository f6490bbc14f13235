package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/homeguard/internal/policy"
	"github.com/gorilla/mux"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// listParam parses the {list} path variable, writing a 400 on failure.
func listParam(w http.ResponseWriter, r *http.Request) (policy.List, bool) {
	list, err := policy.ParseList(mux.Vars(r)["list"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return list, true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	lists := s.engine.Snapshot()

	if _, scoped := mux.Vars(r)["list"]; scoped {
		list, ok := listParam(w, r)
		if !ok {
			return
		}
		lists = map[policy.List][]policy.Rule{list: lists[list]}
	}

	for l, rules := range lists {
		if rules == nil {
			lists[l] = []policy.Rule{}
		}
	}

	writeJSON(w, http.StatusOK, RulesResponse{Lists: lists, State: s.engine.State()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	list, ok := listParam(w, r)
	if !ok {
		return
	}

	var req AddRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := s.engine.Add(list, req.Domain)
	switch {
	case err == nil:
	case errors.Is(err, policy.ErrDuplicateDomain):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, policy.ErrEmptyDomain), errors.Is(err, policy.ErrInvalidDomain), errors.Is(err, policy.ErrUnknownList):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.logger.Error().Err(err).Str("list", string(list)).Msg("Failed to add rule")
		writeError(w, http.StatusInternalServerError, "Failed to add rule")
		return
	}

	writeJSON(w, http.StatusCreated, RuleResponse{Rule: rule, State: s.engine.State()})
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	list, ok := listParam(w, r)
	if !ok {
		return
	}
	id := policy.RuleID(mux.Vars(r)["id"])

	removed, err := s.engine.Remove(list, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	list, ok := listParam(w, r)
	if !ok {
		return
	}
	id := policy.RuleID(mux.Vars(r)["id"])

	rule, found, err := s.engine.Toggle(list, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Rule not found")
		return
	}

	writeJSON(w, http.StatusOK, RuleResponse{Rule: rule, State: s.engine.State()})
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	changes := s.engine.Changes()
	if changes == nil {
		changes = []policy.PendingChange{}
	}
	writeJSON(w, http.StatusOK, ChangesResponse{Changes: changes, State: s.engine.State()})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	applied, err := s.engine.Apply(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, policy.ErrApplyInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	default:
		// Ledger is kept; the caller may retry.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ApplyResponse{Applied: applied, State: s.engine.State()})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Overview())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Devices())
}

func (s *Server) handleAdblock(w http.ResponseWriter, r *http.Request) {
	s.dashboard.WatchLogs()
	writeJSON(w, http.StatusOK, s.dashboard.Adblock())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresher.RefreshAll(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Refresh failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dashboard.Overview())
}
