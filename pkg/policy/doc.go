// Package policy gates manifests with Open Policy Agent (OPA) Rego policies.
//
// Policies are evaluated against the parsed manifest before any driver is
// called. Each policy is a Rego module defining a deny set; members may be
// plain strings or objects:
//
//	package example.no_beta
//
//	import rego.v1
//
//	deny contains violation if {
//		some app in input.manifest.apps
//		contains(app.version, "beta")
//		violation := {
//			"message": sprintf("%s pins a beta version", [app.id]),
//			"severity": "error",
//			"app": app.id,
//		}
//	}
//
// Violations with severity error or critical deny the run. Info and warning
// violations are reported but never block.
//
// # Built-in Policies
//
//   - custom-script-extension: custom install scripts must be .ps1, .sh, .cmd or .bat (error)
//   - pinned-custom-apps: custom apps should declare a detection rule (warning)
//   - app-id-format: app ids must not contain whitespace (error)
//
// Additional .rego files, or .json policy definitions, are loaded from a
// directory with LoadPolicies. A loaded policy replaces a built-in of the
// same name, which is how a built-in can be overridden or relaxed.
//
// # Input
//
// Policies see input.manifest (the manifest in its JSON form) and
// input.context with platform, operation and timestamp.
package policy
