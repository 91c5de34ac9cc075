package device

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func checkValidation(t *testing.T, fn string, input any, err, wantErr error) {
	t.Helper()
	if wantErr == nil {
		if err != nil {
			t.Errorf("%s(%v) = %v, want nil", fn, input, err)
		}
		return
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("%s(%v) = %v, want %v", fn, input, err, wantErr)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{
			name:    "valid name",
			input:   "Greenhouse Cube",
			wantErr: nil,
		},
		{
			name:    "valid name with special characters",
			input:   "Basil (kitchen) #2",
			wantErr: nil,
		},
		{
			name:    "empty name",
			input:   "",
			wantErr: ErrInvalidName,
		},
		{
			name:    "whitespace only",
			input:   "   ",
			wantErr: ErrInvalidName,
		},
		{
			name:    "name at max length",
			input:   strings.Repeat("a", maxNameLength),
			wantErr: nil,
		},
		{
			name:    "name exceeds max length",
			input:   strings.Repeat("a", maxNameLength+1),
			wantErr: ErrInvalidName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkValidation(t, "ValidateName", tt.input, ValidateName(tt.input), tt.wantErr)
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"hex id", "4d2", nil},
		{"lowercase word", "growcube-kitchen", nil},
		{"dots and underscores", "cube_1.a", nil},
		{"empty", "", ErrInvalidDevice},
		{"uppercase", "4D2", ErrInvalidDevice},
		{"leading dash", "-abc", ErrInvalidDevice},
		{"space", "a b", ErrInvalidDevice},
		{"max length", strings.Repeat("a", 64), nil},
		{"too long", strings.Repeat("a", 65), ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkValidation(t, "ValidateID", tt.input, ValidateID(tt.input), tt.wantErr)
		})
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"ipv4", "192.168.1.50", nil},
		{"ipv4 with port", "192.168.1.50:8800", nil},
		{"hostname", "growcube.local", nil},
		{"bracketed ipv6 with port", "[fe80::1]:8800", nil},
		{"empty", "", ErrInvalidHost},
		{"whitespace", "  ", ErrInvalidHost},
		{"contains space", "grow cube", ErrInvalidHost},
		{"contains slash", "http://growcube", ErrInvalidHost},
		{"port only", ":8800", ErrInvalidHost},
		{"too long", strings.Repeat("a", maxHostLength+1), ErrInvalidHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkValidation(t, "ValidateHost", tt.input, ValidateHost(tt.input), tt.wantErr)
		})
	}
}

func TestValidateState(t *testing.T) {
	tooMany := State{}
	for i := range maxStateKeys + 1 {
		tooMany[fmt.Sprintf("k%d", i)] = i
	}

	tests := []struct {
		name    string
		input   State
		wantErr error
	}{
		{"nil state", nil, nil},
		{"flat values", State{"moisture_a": 30, "pump_a_open": true, "temperature": nil}, nil},
		{"too many keys", tooMany, ErrInvalidState},
		{"long string", State{"x": strings.Repeat("a", maxStringValueLen+1)}, ErrInvalidState},
		{"long key", State{strings.Repeat("k", maxStringValueLen+1): 1}, ErrInvalidState},
		{"large array", State{"x": make([]any, maxArrayLen+1)}, ErrInvalidState},
		{"nested object", State{"x": map[string]any{"y": 1}}, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkValidation(t, "ValidateState", tt.name, ValidateState(tt.input), tt.wantErr)
		})
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"valid", testDevice("4d2", "Basil"), nil},
		{"nil", nil, ErrInvalidDevice},
		{"bad id", testDevice("4 d2", "Basil"), ErrInvalidDevice},
		{"bad name", testDevice("4d2", ""), ErrInvalidName},
		{"bad host", &Device{ID: "4d2", Name: "Basil", Host: "a b"}, ErrInvalidHost},
		{"bad state", &Device{ID: "4d2", Name: "Basil", Host: "h", State: State{"x": map[string]any{}}}, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkValidation(t, "ValidateDevice", tt.name, ValidateDevice(tt.device), tt.wantErr)
		})
	}
}

func TestDevice_DeepCopy(t *testing.T) {
	original := testDevice("4d2", "Basil")
	original.State["moisture_a"] = 30
	original.State["tags"] = []any{"x"}

	cpy := original.DeepCopy()
	cpy.State["moisture_a"] = 99
	cpy.State["tags"].([]any)[0] = "y"

	if original.State["moisture_a"] != 30 {
		t.Errorf("original moisture_a = %v, want 30", original.State["moisture_a"])
	}
	if original.State["tags"].([]any)[0] != "x" {
		t.Error("nested slice shared between copies")
	}

	var nilDevice *Device
	if nilDevice.DeepCopy() != nil {
		t.Error("DeepCopy() of nil should be nil")
	}
}

func TestState_Merge(t *testing.T) {
	s := State{"moisture_a": 30, "temperature": 21}
	update := State{"moisture_a": 35, "temperature": nil, "pump_a_open": true}
	s.Merge(update)

	if s["moisture_a"] != 35 || s["pump_a_open"] != true {
		t.Errorf("state = %v", s)
	}
	if _, ok := s["temperature"]; ok {
		t.Error("nil value should remove the key")
	}
	if State(nil).Clone() != nil {
		t.Error("Clone() of nil state should be nil")
	}
}
