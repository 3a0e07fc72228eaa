package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"nithronos/device/nosfw/internal/access"
	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/pkg/httpx"
)

// GET /api/setup
func handleSetupState(store *devconfig.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := store.Current()
		writeJSON(w, map[string]any{
			"provisioned":     cfg.Provisioned(),
			"accessProtected": cfg.AccessProtected,
			"adminUser":       cfg.AdminUser,
			"minLength":       access.MinSecretLen,
		})
	}
}

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

// POST /api/setup
func handleSetup(g *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body setupRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&body); err != nil {
			httpx.WriteTypedError(w, http.StatusBadRequest, "setup.invalid", "Invalid request body", 0)
			return
		}
		err := g.Provision(r.Context(), body.Username, body.Password, body.Confirm)
		switch {
		case errors.Is(err, access.ErrTooShort):
			httpx.WriteErrorWithDetails(w, http.StatusBadRequest, "setup.too_short", err.Error(),
				map[string]any{"minLength": access.MinSecretLen})
			return
		case errors.Is(err, access.ErrMismatch):
			httpx.WriteTypedError(w, http.StatusBadRequest, "setup.mismatch", err.Error(), 0)
			return
		case err != nil:
			httpx.WriteTypedError(w, http.StatusInternalServerError, "setup.write_failed", "Could not store the credential", 0)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}
