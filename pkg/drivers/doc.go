// Package drivers maps manifest apps to the mechanism that installs and
// detects them.
//
// There are exactly two drivers. The standard driver talks to the platform
// package manager (winget on Windows, apt or dnf elsewhere) through a
// PackageManagerClient. The custom driver runs an install script that must
// live under a trusted root and decides presence with a declared detection
// rule. The InstallDriver interface is sealed so the set of drivers can only
// change inside this package.
//
// Dry runs never spawn a process. They report the action that would have
// been taken.
package drivers
