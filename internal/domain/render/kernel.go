package render

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

var sysctlKey = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_-]+)+$`)

// KernelParams maps sysctl keys to values.
type KernelParams map[string]string

// Equal compares key sets and values.
func (k KernelParams) Equal(other KernelParams) bool {
	return maps.Equal(k, other)
}

// Keys returns the parameter names sorted.
func (k KernelParams) Keys() []string {
	return slices.Sorted(maps.Keys(k))
}

// Validate checks keys and values. Values must survive an ini round trip
// unquoted, which rules out comment markers and quote characters.
func (k KernelParams) Validate() error {
	kind := string(KindKernelParams)
	if len(k) == 0 {
		return compiler.NewInvalidConfigError(kind, "", "at least one parameter is required")
	}
	for _, key := range k.Keys() {
		if !sysctlKey.MatchString(key) {
			return compiler.NewInvalidConfigError(kind, key, "invalid sysctl key")
		}
		value := k[key]
		if strings.TrimSpace(value) == "" || value != strings.TrimSpace(value) || strings.ContainsAny(value, "\n#;\"'`") {
			return compiler.NewInvalidConfigError(kind, key, fmt.Sprintf("invalid value %q", value))
		}
	}
	return nil
}

// RenderKernel renders a sysctl.d file with keys in sorted order.
func RenderKernel(params KernelParams) (Artifact, error) {
	if err := params.Validate(); err != nil {
		return Artifact{}, err
	}

	file := ini.Empty()
	section := file.Section("")
	for _, key := range params.Keys() {
		if _, err := section.NewKey(key, params[key]); err != nil {
			return Artifact{}, fmt.Errorf("sysctl key %s: %w", key, err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# Managed by provision. Changes are overwritten.\n")
	if _, err := file.WriteTo(&buf); err != nil {
		return Artifact{}, fmt.Errorf("encode sysctl file: %w", err)
	}
	return newArtifact(KindKernelParams, maps.Clone(params), buf.String()), nil
}

// ParseKernel reads a sysctl.d file.
func ParseKernel(text string) (KernelParams, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		KeyValueDelimiters:  "=",
	}, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("sysctl file: %w", err)
	}

	params := KernelParams{}
	for _, key := range file.Section("").Keys() {
		name := strings.TrimPrefix(key.Name(), "-")
		params[name] = strings.TrimSpace(key.String())
	}
	return params, nil
}
