package device

import "time"

// Registry metadata every Growcube shares.
const (
	DefaultManufacturer = "Elecrow"
	DefaultModel        = "Growcube"
)

// Device is a row of the devices table: a Growcube the bridge has seen
// identify itself at least once.
type Device struct {
	ID           string  `json:"id"`
	Host         string  `json:"host"`
	Name         string  `json:"name"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	Version      *string `json:"version,omitempty"`

	Available bool      `json:"available"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// State is keyed by entity key: "moisture_a", "pump_a_open", ...
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State is the last known value of each entity. It is flat: values are
// scalars or slices of scalars.
type State map[string]any

// Registration is what a device tells the bridge when it identifies.
type Registration struct {
	ID      string
	Host    string
	Name    string
	Version string
}

// Clone copies the map and any slice values.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge applies a partial update; a nil value removes the key.
func (s State) Merge(update State) {
	for k, v := range update {
		if v == nil {
			delete(s, k)
		} else {
			s[k] = cloneValue(v)
		}
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	case map[string]any:
		return map[string]any(State(val).Clone())
	case State:
		return val.Clone()
	}
	return v
}

// DeepCopy returns a copy sharing nothing mutable with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.State = d.State.Clone()
	return &cpy
}
