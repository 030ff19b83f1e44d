package offerings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mlsplus/lib/scrapers/enroll"
)

func (s Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", s.handleSearch)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	courseCode := strings.TrimSpace(r.URL.Query().Get("course"))
	if courseCode == "" {
		writeJson(w, http.StatusBadRequest, errorResponse{Error: "Course code is required"})
		return
	}

	result, err := s.GetOfferings(r.Context(), courseCode)
	if err != nil {
		slog.ErrorContext(r.Context(), "search failed", "course_code", courseCode, "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, enroll.ErrFetchExhausted) {
			status = http.StatusBadGateway
		}
		writeJson(w, status, errorResponse{Error: "Failed to fetch course data"})
		return
	}

	writeJson(w, http.StatusOK, result)
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
