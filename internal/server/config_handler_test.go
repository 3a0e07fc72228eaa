package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postConfig(env *testEnv, body string) *httptest.ResponseRecorder {
	return env.do(authed(httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(body))))
}

func TestConfigPostSaves(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")

	res := postConfig(env, `{"managedNetworkId":"home","managedNetworkSecret":"wifipass1","fallbackEnabled":false}`)
	if res.Code != http.StatusOK {
		t.Fatalf("want 200, got %d %s", res.Code, res.Body.String())
	}
	var out struct {
		Config          configView `json:"config"`
		RestartRequired bool       `json:"restartRequired"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.RestartRequired || out.Config.ManagedNetworkID != "home" || !out.Config.ManagedNetworkSecretSet {
		t.Fatalf("unexpected response %+v", out)
	}
	if strings.Contains(res.Body.String(), "wifipass1") {
		t.Fatalf("secret echoed back")
	}

	cur := env.store.Current()
	if cur.ManagedNetworkSecret != "wifipass1" || cur.FallbackEnabled {
		t.Fatalf("not stored: %+v", cur)
	}
	// untouched fields keep their values
	if cur.DeviceLabel != "nosfw-device" || !cur.Provisioned() {
		t.Fatalf("patch clobbered fields: %+v", cur)
	}
}

func TestConfigPostValidates(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	before := env.store.Current()

	for _, body := range []string{
		`{"adminSecret":"x"}`,
		`{"managedNetworkSecret":"short"}`,
		`{"deviceLabel":""}`,
		`{"fallbackEnabled":"yes"}`,
		`not json`,
	} {
		res := postConfig(env, body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", body, res.Code)
		}
		if code := errorCode(t, res); code != "config.invalid" {
			t.Fatalf("%s: code %q", body, code)
		}
	}
	if env.store.Current() != before {
		t.Fatalf("rejected patch changed the record")
	}
}

func TestConfigPostProtectionToggle(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "longenough1")
	res := postConfig(env, `{"accessProtected":true}`)
	if res.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), `"restartRequired":true`) {
		t.Fatalf("protection toggle should not need a restart")
	}
}
