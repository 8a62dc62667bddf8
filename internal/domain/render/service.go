package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Transport is the proxy stream transport.
type Transport struct {
	Type string // ws, tcp or grpc
	Path string // websocket path or grpc service name; empty for tcp
}

// ServiceConfig is the VMess proxy credential file.
type ServiceConfig struct {
	ClientID      string
	Transport     Transport
	ListenPort    int
	ListenAddress string
}

// Equal compares field by field; client IDs compare as UUIDs.
func (s ServiceConfig) Equal(other ServiceConfig) bool {
	a, b := s, other
	a.ClientID, b.ClientID = strings.ToLower(a.ClientID), strings.ToLower(b.ClientID)
	return a == b
}

// Validate checks the service config constraints.
func (s ServiceConfig) Validate() error {
	kind := string(KindServiceConfig)
	if _, err := uuid.Parse(s.ClientID); err != nil {
		return compiler.NewInvalidConfigError(kind, "clientId", fmt.Sprintf("malformed UUID %q", s.ClientID))
	}
	if !validPort(s.ListenPort) {
		return compiler.NewInvalidConfigError(kind, "listenPort", fmt.Sprintf("port %d out of range 1-65535", s.ListenPort))
	}
	switch s.Transport.Type {
	case "ws":
		if !strings.HasPrefix(s.Transport.Path, "/") {
			return compiler.NewInvalidConfigError(kind, "transport.path", "websocket path must start with /")
		}
	case "grpc":
		if s.Transport.Path == "" {
			return compiler.NewInvalidConfigError(kind, "transport.path", "grpc service name is required")
		}
	case "tcp":
		if s.Transport.Path != "" {
			return compiler.NewInvalidConfigError(kind, "transport.path", "tcp transport takes no path")
		}
	default:
		return compiler.NewInvalidConfigError(kind, "transport.type", fmt.Sprintf("unsupported transport %q", s.Transport.Type))
	}
	return nil
}

type v2rayConfig struct {
	Log       *v2rayLog       `json:"log,omitempty"`
	Inbounds  []v2rayInbound  `json:"inbounds"`
	Outbounds []v2rayOutbound `json:"outbounds,omitempty"`
}

type v2rayLog struct {
	Loglevel string `json:"loglevel"`
}

type v2rayInbound struct {
	Port           int              `json:"port"`
	Listen         string           `json:"listen,omitempty"`
	Protocol       string           `json:"protocol"`
	Settings       v2raySettings    `json:"settings"`
	StreamSettings v2rayStreamSetup `json:"streamSettings"`
}

type v2raySettings struct {
	Clients []v2rayClient `json:"clients"`
}

type v2rayClient struct {
	ID      string `json:"id"`
	AlterID int    `json:"alterId"`
}

type v2rayStreamSetup struct {
	Network      string             `json:"network"`
	WSSettings   *v2rayWSSettings   `json:"wsSettings,omitempty"`
	GRPCSettings *v2rayGRPCSettings `json:"grpcSettings,omitempty"`
}

type v2rayWSSettings struct {
	Path string `json:"path"`
}

type v2rayGRPCSettings struct {
	ServiceName string `json:"serviceName"`
}

type v2rayOutbound struct {
	Protocol string         `json:"protocol"`
	Settings map[string]any `json:"settings"`
}

// RenderService renders a V2Ray-style JSON config with one VMess inbound.
func RenderService(s ServiceConfig) (Artifact, error) {
	if err := s.Validate(); err != nil {
		return Artifact{}, err
	}

	stream := v2rayStreamSetup{Network: s.Transport.Type}
	switch s.Transport.Type {
	case "ws":
		stream.WSSettings = &v2rayWSSettings{Path: s.Transport.Path}
	case "grpc":
		stream.GRPCSettings = &v2rayGRPCSettings{ServiceName: s.Transport.Path}
	}

	doc := v2rayConfig{
		Log: &v2rayLog{Loglevel: "warning"},
		Inbounds: []v2rayInbound{{
			Port:           s.ListenPort,
			Listen:         s.ListenAddress,
			Protocol:       "vmess",
			Settings:       v2raySettings{Clients: []v2rayClient{{ID: s.ClientID}}},
			StreamSettings: stream,
		}},
		Outbounds: []v2rayOutbound{{Protocol: "freedom", Settings: map[string]any{}}},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode service config: %w", err)
	}
	return newArtifact(KindServiceConfig, s, string(data)+"\n"), nil
}

// ParseService reads the first VMess inbound of a V2Ray config.
func ParseService(text string) (ServiceConfig, error) {
	var doc v2rayConfig
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return ServiceConfig{}, fmt.Errorf("service config: %w", err)
	}

	for _, in := range doc.Inbounds {
		if in.Protocol != "vmess" {
			continue
		}
		if len(in.Settings.Clients) == 0 {
			return ServiceConfig{}, fmt.Errorf("service config: vmess inbound has no clients")
		}
		s := ServiceConfig{
			ClientID:      in.Settings.Clients[0].ID,
			ListenPort:    in.Port,
			ListenAddress: in.Listen,
			Transport:     Transport{Type: in.StreamSettings.Network},
		}
		if in.StreamSettings.WSSettings != nil {
			s.Transport.Path = in.StreamSettings.WSSettings.Path
		}
		if in.StreamSettings.GRPCSettings != nil {
			s.Transport.Path = in.StreamSettings.GRPCSettings.ServiceName
		}
		return s, nil
	}
	return ServiceConfig{}, fmt.Errorf("service config: no vmess inbound")
}

// ClientIDFromService extracts the client identifier from a rendered config.
func ClientIDFromService(text string) (string, error) {
	s, err := ParseService(text)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(s.ClientID); err != nil {
		return "", fmt.Errorf("service config: malformed client id: %w", err)
	}
	return s.ClientID, nil
}
