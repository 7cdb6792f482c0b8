package common

import (
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration wraps time.Duration so it can be parsed from the human-readable
// strings ("30s", "1h30m") used throughout YAML/JSON/TOML configuration.
type Duration struct {
	time.Duration
}

// NewDuration wraps a time.Duration as a Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by YAML and TOML
// decoders as well as anything that round-trips through text.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler so Duration fields parse from
// JSON string values like "30s".
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// JSONSchema describes Duration for generated OpenAPI/JSON-schema docs.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units such as 300ms, 1m, 2h30m",
		Examples:    []interface{}{"300ms", "1m", "2h30m"},
	}
}
