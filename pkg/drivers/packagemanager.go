package drivers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// PackageManagerClient is the capability the standard driver installs through.
type PackageManagerClient interface {
	// Name returns the package manager name, e.g. "winget" or "apt".
	Name() string

	// ListInstalled returns installed package ids mapped to their version.
	// An empty version means the manager could not report one.
	ListInstalled(ctx context.Context) (map[string]string, error)

	// InstallOrUpgrade installs id, or upgrades it when upgrade is set.
	InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*ExecResult, error)
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// NewPackageManager returns the client for name. "auto" or "" picks the
// first manager available on this platform.
func NewPackageManager(name string, runner CommandRunner) (PackageManagerClient, error) {
	if name == "" || name == "auto" {
		detected, err := detectPackageManager(runtime.GOOS)
		if err != nil {
			return nil, err
		}
		name = detected
	}

	switch name {
	case "winget":
		return NewWingetClient(runner), nil
	case "apt":
		return NewAptClient(runner), nil
	case "dnf", "yum":
		return NewDnfClient(runner, name), nil
	default:
		return nil, fmt.Errorf("unsupported package manager: %s", name)
	}
}

func detectPackageManager(goos string) (string, error) {
	if goos == "windows" {
		if _, err := lookPath("winget"); err == nil {
			return "winget", nil
		}
		return "", fmt.Errorf("winget not found in PATH")
	}

	managers := []struct{ binary, name string }{
		{"apt-get", "apt"},
		{"dnf", "dnf"},
		{"yum", "yum"},
		{"winget", "winget"},
	}
	for _, mgr := range managers {
		if _, err := lookPath(mgr.binary); err == nil {
			return mgr.name, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// WingetClient drives the Windows Package Manager.
type WingetClient struct {
	runner CommandRunner
}

// NewWingetClient creates a winget client.
func NewWingetClient(runner CommandRunner) *WingetClient {
	return &WingetClient{runner: runner}
}

func (c *WingetClient) Name() string { return "winget" }

type wingetExport struct {
	Sources []struct {
		Packages []struct {
			PackageIdentifier string `json:"PackageIdentifier"`
			Version           string `json:"Version"`
		} `json:"Packages"`
	} `json:"Sources"`
}

// ListInstalled exports the installed package list with versions.
func (c *WingetClient) ListInstalled(ctx context.Context) (map[string]string, error) {
	tmp, err := os.CreateTemp("", "endstate-winget-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	res, err := c.runner.Run(ctx, Command{
		Name: "winget",
		Args: []string{
			"export", "-o", path,
			"--include-versions",
			"--accept-source-agreements",
			"--disable-interactivity",
		},
	})
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		// winget exits non-zero when some packages are not exportable, but
		// still writes the file. Only fail when nothing was written.
		return nil, fmt.Errorf("winget export produced no output (exit code %d): %s",
			res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var export wingetExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse winget export: %w", err)
	}

	installed := make(map[string]string)
	for _, src := range export.Sources {
		for _, pkg := range src.Packages {
			if pkg.PackageIdentifier == "" {
				continue
			}
			installed[pkg.PackageIdentifier] = normalizeReportedVersion(pkg.Version)
		}
	}
	return installed, nil
}

// InstallOrUpgrade runs winget install or winget upgrade for an exact id.
func (c *WingetClient) InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*ExecResult, error) {
	verb := "install"
	if upgrade {
		verb = "upgrade"
	}
	return c.runner.Run(ctx, Command{
		Name: "winget",
		Args: []string{
			verb, "--id", id, "--exact", "--silent",
			"--accept-package-agreements",
			"--accept-source-agreements",
			"--disable-interactivity",
		},
	})
}

// AptClient drives dpkg and apt-get.
type AptClient struct {
	runner CommandRunner
}

// NewAptClient creates an apt client.
func NewAptClient(runner CommandRunner) *AptClient {
	return &AptClient{runner: runner}
}

func (c *AptClient) Name() string { return "apt" }

// ListInstalled queries dpkg for installed packages. Packages that were
// removed but kept their configuration files are not installed.
func (c *AptClient) ListInstalled(ctx context.Context) (map[string]string, error) {
	res, err := c.runner.Run(ctx, Command{
		Name: "dpkg-query",
		Args: []string{"-W", "-f=${db:Status-Abbrev}\t${Package}\t${Version}\n"},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("dpkg-query exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseDpkgList(res.Stdout), nil
}

// InstallOrUpgrade runs apt-get install, restricted to upgrades when asked.
func (c *AptClient) InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*ExecResult, error) {
	args := []string{"install", "-y"}
	if upgrade {
		args = append(args, "--only-upgrade")
	}
	args = append(args, id)
	return c.runner.Run(ctx, Command{
		Name: "apt-get",
		Args: args,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
}

// DnfClient drives rpm and dnf (or yum).
type DnfClient struct {
	runner CommandRunner
	binary string
}

// NewDnfClient creates a client using binary ("dnf" or "yum").
func NewDnfClient(runner CommandRunner, binary string) *DnfClient {
	if binary == "" {
		binary = "dnf"
	}
	return &DnfClient{runner: runner, binary: binary}
}

func (c *DnfClient) Name() string { return c.binary }

// ListInstalled queries the rpm database.
func (c *DnfClient) ListInstalled(ctx context.Context) (map[string]string, error) {
	res, err := c.runner.Run(ctx, Command{
		Name: "rpm",
		Args: []string{"-qa", "--queryformat", "%{NAME}\t%{VERSION}-%{RELEASE}\n"},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("rpm exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseTabList(res.Stdout), nil
}

// InstallOrUpgrade runs dnf install or dnf upgrade.
func (c *DnfClient) InstallOrUpgrade(ctx context.Context, id string, upgrade bool) (*ExecResult, error) {
	verb := "install"
	if upgrade {
		verb = "upgrade"
	}
	return c.runner.Run(ctx, Command{
		Name: c.binary,
		Args: []string{verb, "-y", id},
	})
}

// parseTabList parses "name\tversion" lines.
func parseTabList(out string) map[string]string {
	installed := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, ver, _ := strings.Cut(line, "\t")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		installed[name] = normalizeReportedVersion(ver)
	}
	return installed
}

// parseDpkgList parses "status\tname\tversion" lines and keeps packages
// whose current state is installed ("ii", "hi"). Rows such as "rc" (removed,
// config files remain) are dropped.
func parseDpkgList(out string) map[string]string {
	installed := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		status, rest, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		status = strings.TrimSpace(status)
		if len(status) < 2 || status[1] != 'i' {
			continue
		}
		name, ver, _ := strings.Cut(rest, "\t")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		installed[name] = normalizeReportedVersion(ver)
	}
	return installed
}

// normalizeReportedVersion maps placeholder versions to unknown.
func normalizeReportedVersion(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "unknown", "(none)", "<", "-":
		return ""
	}
	return v
}
