package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
)

func TestCommands_Success(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		wantCommand string
		wantParams  map[string]any
	}{
		{
			name:        "water with duration",
			method:      http.MethodPost,
			path:        "/api/v1/devices/4D2/water",
			body:        `{"channel":"b","duration":3}`,
			wantCommand: growcube.CommandWaterPlant,
			wantParams:  map[string]any{"channel": "b", "duration": 3},
		},
		{
			name:        "water default duration",
			method:      http.MethodPost,
			path:        "/api/v1/devices/4d2/water",
			body:        `{"channel":"a"}`,
			wantCommand: growcube.CommandWaterPlant,
			wantParams:  map[string]any{"channel": "a"},
		},
		{
			name:        "smart watering",
			method:      http.MethodPost,
			path:        "/api/v1/devices/4d2/watering/smart",
			body:        `{"channel":"c","min_value":20,"max_value":45}`,
			wantCommand: growcube.CommandSetSmartWatering,
			wantParams:  map[string]any{"channel": "c", "min_value": 20, "max_value": 45},
		},
		{
			name:        "manual watering",
			method:      http.MethodPost,
			path:        "/api/v1/devices/4d2/watering/manual",
			body:        `{"channel":"d"}`,
			wantCommand: growcube.CommandSetManualWatering,
			wantParams:  map[string]any{"channel": "d"},
		},
		{
			name:        "delete watering",
			method:      http.MethodDelete,
			path:        "/api/v1/devices/4d2/watering/b",
			wantCommand: growcube.CommandDeleteWatering,
			wantParams:  map[string]any{"channel": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")

			w := env.do(t, tt.method, tt.path, tt.body, "X-Request-ID", "cmd-1")
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusAccepted, w.Body.String())
			}

			cmd := env.commands.last(t)
			if cmd.DeviceID != "4d2" {
				t.Errorf("DeviceID = %q, want 4d2", cmd.DeviceID)
			}
			if cmd.Command != tt.wantCommand {
				t.Errorf("Command = %q, want %q", cmd.Command, tt.wantCommand)
			}
			if cmd.Source != growcube.SourceAPI {
				t.Errorf("Source = %q, want %q", cmd.Source, growcube.SourceAPI)
			}
			if cmd.ID != "cmd-1" {
				t.Errorf("ID = %q, want request id cmd-1", cmd.ID)
			}
			if len(cmd.Parameters) != len(tt.wantParams) {
				t.Fatalf("Parameters = %v, want %v", cmd.Parameters, tt.wantParams)
			}
			for k, v := range tt.wantParams {
				if cmd.Parameters[k] != v {
					t.Errorf("Parameters[%s] = %v (%T), want %v", k, cmd.Parameters[k], cmd.Parameters[k], v)
				}
			}

			var ack growcube.AckMessage
			decodeJSON(t, w, &ack)
			if ack.Status != growcube.AckAccepted || ack.CommandID != "cmd-1" || ack.Command != tt.wantCommand {
				t.Errorf("ack = %+v", ack)
			}
		})
	}
}

func TestCommands_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &growcube.ValidationError{Field: "channel", Value: "e", Message: "must be A-D"}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown command", growcube.ErrUnknownCommand, http.StatusBadRequest, ErrCodeValidation},
		{"not configured", fmt.Errorf("lookup: %w", growcube.ErrDeviceNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"not connected", growcube.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable},
		{"shut down", growcube.ErrShutdown, http.StatusServiceUnavailable, ErrCodeDeviceUnreachable},
		{"timeout", fmt.Errorf("write: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
		{"write failed", fmt.Errorf("%w: broken pipe", growcube.ErrCommandFailed), http.StatusBadGateway, ErrCodeDeviceError},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.commands.err = tt.err

			w := env.do(t, http.MethodPost, "/api/v1/devices/4d2/water", `{"channel":"a"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp Error
			decodeJSON(t, w, &resp)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestCommands_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", `{"channel":`},
		{"unknown field", `{"channel":"a","speed":9}`},
		{"wrong type", `{"channel":"a","duration":"long"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			w := env.do(t, http.MethodPost, "/api/v1/devices/4d2/water", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if env.commands.count() != 0 {
				t.Error("command executed for a bad body")
			}
		})
	}
}

func TestCommands_NoExecutor(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.commands = nil

	w := env.do(t, http.MethodPost, "/api/v1/devices/4d2/water", `{"channel":"a"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
