package drivers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/openfroyo/endstate/pkg/manifest"
)

// DetectResult is the outcome of a custom detection rule. Version is only
// set by rules that read one explicitly.
type DetectResult struct {
	Installed bool
	Version   string
}

// RegistryReader reads the Windows registry. Paths take the form
// HKLM\SOFTWARE\Vendor\App; the PowerShell form HKLM:\... is also accepted.
type RegistryReader interface {
	KeyExists(path string) (bool, error)
	StringValue(path, name string) (string, bool, error)
}

// ErrRegistryUnsupported is returned by registry rules off Windows.
var ErrRegistryUnsupported = errors.New("registry detection is only supported on windows")

// Detector evaluates custom detection rules.
type Detector struct {
	platform  string
	lookupEnv func(string) (string, bool)
	stat      func(string) (os.FileInfo, error)
	registry  RegistryReader
	expr      *ExprEvaluator
}

// NewDetector creates a detector backed by the real environment, filesystem
// and registry.
func NewDetector(platform string) *Detector {
	return &Detector{
		platform:  platform,
		lookupEnv: os.LookupEnv,
		stat:      os.Stat,
		registry:  newRegistryReader(),
		expr:      NewExprEvaluator(0),
	}
}

// Detect evaluates rule against the live system.
func (d *Detector) Detect(ctx context.Context, rule *manifest.DetectRule) (DetectResult, error) {
	if rule == nil {
		return DetectResult{}, errors.New("no detection rule declared")
	}

	switch rule.Type {
	case manifest.DetectFile:
		return DetectResult{Installed: d.fileExists(rule.Path)}, nil

	case manifest.DetectRegistry:
		return d.detectRegistry(rule)

	case manifest.DetectExpr:
		ok, err := d.expr.Eval(ctx, rule.Expr, ExprEnv{
			Platform:    d.platform,
			FileExists:  d.fileExists,
			LookupEnv:   d.lookupEnv,
			RegistryKey: d.registryKeyExists,
		})
		if err != nil {
			return DetectResult{}, err
		}
		return DetectResult{Installed: ok}, nil

	default:
		return DetectResult{}, fmt.Errorf("unknown detection rule type: %s", rule.Type)
	}
}

func (d *Detector) fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := d.stat(d.expand(path))
	return err == nil
}

func (d *Detector) registryKeyExists(key string) (bool, error) {
	return d.registry.KeyExists(d.expand(key))
}

func (d *Detector) detectRegistry(rule *manifest.DetectRule) (DetectResult, error) {
	key := d.expand(rule.Key)

	if rule.ValueName == "" {
		ok, err := d.registry.KeyExists(key)
		if err != nil {
			return DetectResult{}, err
		}
		return DetectResult{Installed: ok}, nil
	}

	val, ok, err := d.registry.StringValue(key, rule.ValueName)
	if err != nil {
		return DetectResult{}, err
	}
	return DetectResult{Installed: ok, Version: val}, nil
}

func (d *Detector) expand(s string) string {
	return expandEnv(s, d.lookupEnv)
}

var percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// expandEnv expands %VAR% and then $VAR / ${VAR}. Unknown %VAR% references
// are left as written.
func expandEnv(s string, lookup func(string) (string, bool)) string {
	s = percentVar.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := lookup(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})
	return os.Expand(s, func(name string) string {
		if v, ok := lookup(name); ok {
			return v
		}
		return ""
	})
}
