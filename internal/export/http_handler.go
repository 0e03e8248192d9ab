package export

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/revisionable/internal/domain"
)

type Handler struct {
	service *Service
}

// NewHTTPHandler serves GET /revisions/{type}/{id}/export.xlsx. It must be mounted on
// a pattern that defines the type and id wildcards.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recordType := strings.TrimSpace(r.PathValue("type"))
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if recordType == "" || err != nil {
		http.Error(w, "invalid subject", http.StatusBadRequest)
		return
	}
	subject := domain.SubjectRef{Type: recordType, ID: id}

	// Buffer so a failed export still gets a proper status code.
	var buf bytes.Buffer
	if _, err := h.service.WriteHistory(r.Context(), subject, &buf); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(subject)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
