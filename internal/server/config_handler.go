package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/pkg/httpx"
)

// The credential is changed through /api/setup only, so admin fields are
// rejected here.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "managedNetworkId":     {"type": "string", "maxLength": 32},
    "managedNetworkSecret": {"type": "string", "maxLength": 63,
                             "anyOf": [{"maxLength": 0}, {"minLength": 8}]},
    "deviceLabel":          {"type": "string", "minLength": 1, "maxLength": 63},
    "fallbackEnabled":      {"type": "boolean"},
    "accessProtected":      {"type": "boolean"}
  }
}`

var configSchemaLoader = gojsonschema.NewStringLoader(configSchema)

type configPatch struct {
	ManagedNetworkID     *string `json:"managedNetworkId"`
	ManagedNetworkSecret *string `json:"managedNetworkSecret"`
	DeviceLabel          *string `json:"deviceLabel"`
	FallbackEnabled      *bool   `json:"fallbackEnabled"`
	AccessProtected      *bool   `json:"accessProtected"`
}

// apply reports whether the network settings changed.
func (p configPatch) apply(c *devconfig.DeviceConfig) bool {
	changed := false
	if p.ManagedNetworkID != nil && *p.ManagedNetworkID != c.ManagedNetworkID {
		c.ManagedNetworkID = *p.ManagedNetworkID
		changed = true
	}
	if p.ManagedNetworkSecret != nil && *p.ManagedNetworkSecret != c.ManagedNetworkSecret {
		c.ManagedNetworkSecret = *p.ManagedNetworkSecret
		changed = true
	}
	if p.DeviceLabel != nil && *p.DeviceLabel != c.DeviceLabel {
		c.DeviceLabel = *p.DeviceLabel
		changed = true
	}
	if p.FallbackEnabled != nil {
		c.FallbackEnabled = *p.FallbackEnabled
	}
	if p.AccessProtected != nil {
		c.AccessProtected = *p.AccessProtected
	}
	return changed
}

func validateConfigBody(body []byte) ([]string, error) {
	res, err := gojsonschema.Validate(configSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, err
	}
	if res.Valid() {
		return nil, nil
	}
	var problems []string
	for _, e := range res.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return problems, nil
}

// GET /api/config
func handleConfigGet(store *devconfig.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, redact(store.Current()))
	}
}

// POST /api/config
func handleConfigPost(store *devconfig.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
		if err != nil {
			httpx.WriteTypedError(w, http.StatusRequestEntityTooLarge, "config.too_large", "Request body too large", 0)
			return
		}
		problems, err := validateConfigBody(body)
		if err != nil {
			httpx.WriteTypedError(w, http.StatusBadRequest, "config.invalid", "Body is not valid JSON", 0)
			return
		}
		if len(problems) > 0 {
			httpx.WriteErrorWithDetails(w, http.StatusBadRequest, "config.invalid", "Configuration rejected",
				map[string]any{"problems": problems})
			return
		}
		var patch configPatch
		if err := json.Unmarshal(body, &patch); err != nil {
			httpx.WriteTypedError(w, http.StatusBadRequest, "config.invalid", err.Error(), 0)
			return
		}

		var restart bool
		updated, err := store.Update(r.Context(), func(c *devconfig.DeviceConfig) error {
			restart = patch.apply(c)
			return nil
		})
		if err != nil {
			httpx.WriteTypedError(w, http.StatusInternalServerError, "config.write_failed", "Configuration could not be saved", 0)
			return
		}
		writeJSON(w, map[string]any{"config": redact(updated), "restartRequired": restart})
	}
}
