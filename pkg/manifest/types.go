package manifest

import (
	"encoding/json"
	"fmt"
)

// DriverName identifies the installation strategy for an app.
type DriverName string

const (
	// DriverWinget is the standard package-manager driver and the default.
	DriverWinget DriverName = "winget"

	// DriverCustom runs a script from the trusted root and detects the app
	// with a declared rule.
	DriverCustom DriverName = "custom"
)

// Validate checks if the driver name is one of the known drivers.
func (d DriverName) Validate() error {
	switch d {
	case DriverWinget, DriverCustom:
		return nil
	default:
		return fmt.Errorf("unknown driver: %s", d)
	}
}

// Or returns d, or def when d is empty.
func (d DriverName) Or(def DriverName) DriverName {
	if d == "" {
		return def
	}
	return d
}

// DetectType is the kind of custom detection rule.
type DetectType string

const (
	// DetectFile checks that a file exists.
	DetectFile DetectType = "file"

	// DetectRegistry checks that a registry key (and optionally a value) exists.
	DetectRegistry DetectType = "registry"

	// DetectExpr evaluates a sandboxed Starlark boolean expression.
	DetectExpr DetectType = "expr"
)

// Manifest is the declarative description of a machine.
type Manifest struct {
	Version  int              `json:"version" yaml:"version" validate:"gte=1"`
	Name     string           `json:"name,omitempty" yaml:"name,omitempty"`
	Includes []string         `json:"includes,omitempty" yaml:"includes,omitempty"`
	Apps     []AppEntry       `json:"apps" yaml:"apps" validate:"dive"`
	Restore  []map[string]any `json:"restore,omitempty" yaml:"restore,omitempty"`
	Verify   []map[string]any `json:"verify,omitempty" yaml:"verify,omitempty"`

	// Path is the absolute path the manifest was loaded from.
	Path string `json:"-" yaml:"-"`
}

// App returns the app with the given id.
func (m *Manifest) App(id string) (AppEntry, bool) {
	for _, a := range m.Apps {
		if a.ID == id {
			return a, true
		}
	}
	return AppEntry{}, false
}

// AppEntry declares one application.
type AppEntry struct {
	ID       string            `json:"id" yaml:"id" validate:"required"`
	Driver   DriverName        `json:"driver,omitempty" yaml:"driver,omitempty"`
	Refs     map[string]string `json:"refs,omitempty" yaml:"refs,omitempty"`
	Version  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Custom   *CustomConfig     `json:"custom,omitempty" yaml:"custom,omitempty"`
	Disabled bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// DriverName returns the declared driver, defaulting to the standard driver.
func (a AppEntry) DriverName() DriverName {
	return a.Driver.Or(DriverWinget)
}

// CustomConfig configures the custom driver.
type CustomConfig struct {
	InstallScript string      `json:"installScript" yaml:"installScript" validate:"required"`
	Detect        *DetectRule `json:"detect,omitempty" yaml:"detect,omitempty"`
}

// DetectRule describes how to decide whether a custom app is installed.
type DetectRule struct {
	Type      DetectType `json:"type" yaml:"type" validate:"required,oneof=file registry expr"`
	Path      string     `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Type file"`
	Key       string     `json:"key,omitempty" yaml:"key,omitempty" validate:"required_if=Type registry"`
	ValueName string     `json:"valueName,omitempty" yaml:"valueName,omitempty"`
	Expr      string     `json:"expr,omitempty" yaml:"expr,omitempty" validate:"required_if=Type expr"`
}

// MarshalJSON keeps apps as an array even when empty.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type alias Manifest
	a := alias(m)
	if a.Apps == nil {
		a.Apps = []AppEntry{}
	}
	return json.Marshal(a)
}
