package server

import (
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"

	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/pkg/httpx"
)

var wifiEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

// wifiJoinURI is the de-facto Wi-Fi QR payload phones understand.
func wifiJoinURI(ssid, secret string) string {
	return "WIFI:T:WPA;S:" + wifiEscaper.Replace(ssid) + ";P:" + wifiEscaper.Replace(secret) + ";;"
}

// GET /api/fallback/qr.png
func handleFallbackQR(conn *connectivity.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := conn.CurrentState()
		if st.Mode != connectivity.ModeFallbackAP {
			httpx.WriteTypedError(w, http.StatusNotFound, "fallback.inactive", "Fallback network is not active", 0)
			return
		}
		png, err := qrcode.Encode(wifiJoinURI(st.Target, connectivity.FallbackSecret), qrcode.Medium, 256)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
