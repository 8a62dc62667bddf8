// Package render turns typed configuration into the files services read, and
// parses those files back so live state can be compared structurally.
package render

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Kind identifies an artifact format.
type Kind string

// Artifact kinds.
const (
	KindFirewallRules     Kind = "firewall"
	KindReverseProxyVHost Kind = "vhost"
	KindServiceConfig     Kind = "service"
	KindKernelParams      Kind = "kernel"
)

// Kinds lists every artifact kind.
func Kinds() []Kind {
	return []Kind{KindFirewallRules, KindReverseProxyVHost, KindServiceConfig, KindKernelParams}
}

// ParseKind resolves a kind name.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, nil
		}
	}
	return "", compiler.NewInvalidConfigError("artifact", "kind", fmt.Sprintf("unknown kind %q", name))
}

// Artifact is a rendered file together with the typed value it came from.
// It is a value: re-render from the source instead of editing the text.
type Artifact struct {
	kind   Kind
	source any
	text   string
	digest string
}

// Kind returns the artifact kind.
func (a Artifact) Kind() Kind { return a.kind }

// Source returns the typed value the artifact was rendered from.
func (a Artifact) Source() any { return a.source }

// Text returns the rendered content.
func (a Artifact) Text() string { return a.text }

// Bytes returns the rendered content as bytes.
func (a Artifact) Bytes() []byte { return []byte(a.text) }

// Digest returns the blake3 hex digest of the rendered content.
func (a Artifact) Digest() string { return a.digest }

func newArtifact(kind Kind, source any, text string) Artifact {
	return Artifact{kind: kind, source: source, text: text, digest: Digest([]byte(text))}
}

// Digest returns the blake3 hex digest of data.
func Digest(data []byte) string {
	hasher := blake3.New()
	_, _ = hasher.Write(data)
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Render produces the artifact for source, which must be the typed value for
// kind (FirewallRules, VHost, ServiceConfig or KernelParams).
func Render(kind Kind, source any) (Artifact, error) {
	switch kind {
	case KindFirewallRules:
		if v, ok := source.(FirewallRules); ok {
			return RenderFirewall(v)
		}
	case KindReverseProxyVHost:
		if v, ok := source.(VHost); ok {
			return RenderVHost(v)
		}
	case KindServiceConfig:
		if v, ok := source.(ServiceConfig); ok {
			return RenderService(v)
		}
	case KindKernelParams:
		if v, ok := source.(KernelParams); ok {
			return RenderKernel(v)
		}
	default:
		return Artifact{}, compiler.NewInvalidConfigError("artifact", "kind", fmt.Sprintf("unknown kind %q", kind))
	}
	return Artifact{}, compiler.NewInvalidConfigError(string(kind), "", fmt.Sprintf("unexpected source type %T", source))
}

// Parse is the inverse of Render.
func Parse(kind Kind, text string) (any, error) {
	switch kind {
	case KindFirewallRules:
		return ParseFirewall(text)
	case KindReverseProxyVHost:
		return ParseVHost(text)
	case KindServiceConfig:
		return ParseService(text)
	case KindKernelParams:
		return ParseKernel(text)
	}
	return nil, compiler.NewInvalidConfigError("artifact", "kind", fmt.Sprintf("unknown kind %q", kind))
}

// Equal compares two typed values of kind field by field.
func Equal(kind Kind, a, b any) bool {
	switch kind {
	case KindFirewallRules:
		x, ok1 := a.(FirewallRules)
		y, ok2 := b.(FirewallRules)
		return ok1 && ok2 && x.Equal(y)
	case KindReverseProxyVHost:
		x, ok1 := a.(VHost)
		y, ok2 := b.(VHost)
		return ok1 && ok2 && x.Equal(y)
	case KindServiceConfig:
		x, ok1 := a.(ServiceConfig)
		y, ok2 := b.(ServiceConfig)
		return ok1 && ok2 && x.Equal(y)
	case KindKernelParams:
		x, ok1 := a.(KernelParams)
		y, ok2 := b.(KernelParams)
		return ok1 && ok2 && x.Equal(y)
	}
	return false
}

// Matches parses text and reports whether it describes the same value as want.
// Text that does not parse never matches.
func Matches(kind Kind, text string, want any) bool {
	got, err := Parse(kind, text)
	if err != nil {
		return false
	}
	return Equal(kind, got, want)
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
