package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		customScriptExtensionPolicy(),
		pinnedCustomAppsPolicy(),
		appIDFormatPolicy(),
	}
}

// customScriptExtensionPolicy only allows install scripts the custom driver
// knows how to run.
func customScriptExtensionPolicy() Policy {
	return Policy{
		Name:        "custom-script-extension",
		Description: "Custom install scripts must be .ps1, .sh, .cmd or .bat files",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"custom", "security"},
		Rego: `package endstate.policies.custom_scripts

import rego.v1

allowed_extensions := {".ps1", ".sh", ".cmd", ".bat"}

deny contains violation if {
	some app in input.manifest.apps
	app.driver == "custom"
	script := app.custom.installScript
	not has_allowed_extension(lower(script))
	violation := {
		"message": sprintf("custom app %s: install script %s must end in .ps1, .sh, .cmd or .bat", [app.id, script]),
		"severity": "error",
		"app": app.id,
		"remediation": "wrap the installer in a PowerShell or shell script under the trusted root",
	}
}

has_allowed_extension(script) if {
	some ext in allowed_extensions
	endswith(script, ext)
}
`,
	}
}

// pinnedCustomAppsPolicy rejects custom apps without a detection rule. Such
// an app is never found installed and never installed either.
func pinnedCustomAppsPolicy() Policy {
	return Policy{
		Name:        "pinned-custom-apps",
		Description: "Custom apps must declare a detection rule",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"custom", "idempotence"},
		Rego: `package endstate.policies.custom_detect

import rego.v1

deny contains violation if {
	some app in input.manifest.apps
	app.driver == "custom"
	not app.custom.detect
	violation := {
		"message": sprintf("custom app %s has no detection rule and cannot be reconciled", [app.id]),
		"severity": "error",
		"app": app.id,
		"remediation": "add custom.detect with a file, registry or expr rule",
	}
}
`,
	}
}

// appIDFormatPolicy rejects ids that cannot be passed to --only.
func appIDFormatPolicy() Policy {
	return Policy{
		Name:        "app-id-format",
		Description: "App ids must not contain whitespace",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		Rego: `package endstate.policies.app_ids

import rego.v1

deny contains violation if {
	some app in input.manifest.apps
	regex.match(` + "`\\s`" + `, app.id)
	violation := {
		"message": sprintf("app id '%s' must not contain whitespace", [app.id]),
		"severity": "error",
		"app": app.id,
	}
}
`,
	}
}
