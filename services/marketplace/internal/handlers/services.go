package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

// ServiceCatalog is the read-only catalog the public endpoints expose.
type ServiceCatalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	ListServicesByProvider(ctx context.Context, providerID string) ([]model.Service, error)
}

type ServiceHandler struct {
	catalog ServiceCatalog
	logger  *slog.Logger
}

func NewServiceHandler(catalog ServiceCatalog, logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{catalog: catalog, logger: logger}
}

func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc, err := h.catalog.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *ServiceHandler) ListByProvider(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("providerId"))
	if providerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "providerId is required"})
		return
	}

	services, err := h.catalog.ListServicesByProvider(r.Context(), providerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}
