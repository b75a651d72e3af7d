//go:build windows

package drivers

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

type windowsRegistry struct{}

func newRegistryReader() RegistryReader {
	return windowsRegistry{}
}

func splitRegistryPath(path string) (registry.Key, string, error) {
	path = strings.ReplaceAll(path, "/", `\`)
	hive, sub, _ := strings.Cut(path, `\`)

	switch strings.ToUpper(strings.TrimSuffix(hive, ":")) {
	case "HKLM", "HKEY_LOCAL_MACHINE":
		return registry.LOCAL_MACHINE, sub, nil
	case "HKCU", "HKEY_CURRENT_USER":
		return registry.CURRENT_USER, sub, nil
	case "HKCR", "HKEY_CLASSES_ROOT":
		return registry.CLASSES_ROOT, sub, nil
	case "HKU", "HKEY_USERS":
		return registry.USERS, sub, nil
	case "HKCC", "HKEY_CURRENT_CONFIG":
		return registry.CURRENT_CONFIG, sub, nil
	}
	return 0, "", fmt.Errorf("unknown registry hive %q", hive)
}

func (windowsRegistry) KeyExists(path string) (bool, error) {
	root, sub, err := splitRegistryPath(path)
	if err != nil {
		return false, err
	}

	k, err := registry.OpenKey(root, sub, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	k.Close()
	return true, nil
}

func (windowsRegistry) StringValue(path, name string) (string, bool, error) {
	root, sub, err := splitRegistryPath(path)
	if err != nil {
		return "", false, err
	}

	k, err := registry.OpenKey(root, sub, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer k.Close()

	val, _, err := k.GetStringValue(name)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s\\%s: %w", path, name, err)
	}
	return val, true, nil
}
