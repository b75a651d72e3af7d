//go:build !windows

package drivers

type unsupportedRegistry struct{}

func newRegistryReader() RegistryReader {
	return unsupportedRegistry{}
}

func (unsupportedRegistry) KeyExists(string) (bool, error) {
	return false, ErrRegistryUnsupported
}

func (unsupportedRegistry) StringValue(string, string) (string, bool, error) {
	return "", false, ErrRegistryUnsupported
}
