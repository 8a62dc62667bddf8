package render

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// VHost is an nginx TLS server block proxying one location upstream.
type VHost struct {
	ListenPort       int
	ServerName       string
	TLSCertPath      string
	TLSKeyPath       string
	UpstreamPath     string
	UpstreamURL      string
	WebsocketUpgrade bool
}

// Equal compares field by field.
func (v VHost) Equal(other VHost) bool {
	return v == other
}

// nginxSpecial are the bytes that end or quote an nginx word. Values holding
// any of them would not read back as written.
const nginxSpecial = " \t\r\n;{}#\"'"

func nginxWord(s string) bool {
	return s != "" && !strings.ContainsAny(s, nginxSpecial)
}

// Validate checks the vhost constraints. Every emitted value must be a
// single unquoted nginx word.
func (v VHost) Validate() error {
	kind := string(KindReverseProxyVHost)
	if !validPort(v.ListenPort) {
		return compiler.NewInvalidConfigError(kind, "listenPort", fmt.Sprintf("port %d out of range 1-65535", v.ListenPort))
	}
	if !nginxWord(v.ServerName) {
		return compiler.NewInvalidConfigError(kind, "serverName", fmt.Sprintf("invalid server name %q", v.ServerName))
	}
	if !nginxWord(v.TLSCertPath) {
		return compiler.NewInvalidConfigError(kind, "tlsCertPath", fmt.Sprintf("invalid certificate path %q", v.TLSCertPath))
	}
	if !nginxWord(v.TLSKeyPath) {
		return compiler.NewInvalidConfigError(kind, "tlsKeyPath", fmt.Sprintf("invalid key path %q", v.TLSKeyPath))
	}
	if !strings.HasPrefix(v.UpstreamPath, "/") || !nginxWord(v.UpstreamPath) {
		return compiler.NewInvalidConfigError(kind, "upstreamPath", fmt.Sprintf("invalid location %q", v.UpstreamPath))
	}
	u, err := url.Parse(v.UpstreamURL)
	if err != nil || !nginxWord(v.UpstreamURL) || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return compiler.NewInvalidConfigError(kind, "upstreamURL", fmt.Sprintf("invalid upstream %q", v.UpstreamURL))
	}
	if port, err := strconv.Atoi(u.Port()); err != nil || !validPort(port) {
		return compiler.NewInvalidConfigError(kind, "upstreamURL", fmt.Sprintf("upstream %q needs an explicit port", v.UpstreamURL))
	}
	return nil
}

// RenderVHost renders an nginx server block.
func RenderVHost(v VHost) (Artifact, error) {
	if err := v.Validate(); err != nil {
		return Artifact{}, err
	}

	var b strings.Builder
	b.WriteString("# Managed by provision. Changes are overwritten.\n")
	b.WriteString("server {\n")
	fmt.Fprintf(&b, "    listen %d ssl;\n", v.ListenPort)
	fmt.Fprintf(&b, "    server_name %s;\n\n", v.ServerName)
	fmt.Fprintf(&b, "    ssl_certificate %s;\n", v.TLSCertPath)
	fmt.Fprintf(&b, "    ssl_certificate_key %s;\n\n", v.TLSKeyPath)
	fmt.Fprintf(&b, "    location %s {\n", v.UpstreamPath)
	fmt.Fprintf(&b, "        proxy_pass %s;\n", v.UpstreamURL)
	if v.WebsocketUpgrade {
		b.WriteString("        proxy_http_version 1.1;\n")
		b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
		b.WriteString("        proxy_set_header Connection \"upgrade\";\n")
	}
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")

	return newArtifact(KindReverseProxyVHost, v, b.String()), nil
}

// ParseVHost reads the first server block of an nginx config. Only the
// directives RenderVHost emits are interpreted; anything else is ignored.
func ParseVHost(text string) (VHost, error) {
	tokens, err := tokenizeNginx(text)
	if err != nil {
		return VHost{}, err
	}

	var v VHost
	p := &nginxParser{tokens: tokens}
	inServer, inLocation := false, false
	found := false

	for !p.done() {
		stmt, token, err := p.next()
		if err != nil {
			return VHost{}, err
		}
		switch {
		case token == "{" && stmt[0] == "server" && !inServer && !found:
			inServer = true
			found = true
		case token == "{" && len(stmt) > 1 && stmt[0] == "location" && inServer && !inLocation && v.UpstreamPath == "":
			inLocation = true
			v.UpstreamPath = stmt[len(stmt)-1]
		case token == "{":
			// Unknown blocks are skipped wholesale.
			if err := p.skipBlock(); err != nil {
				return VHost{}, err
			}
		case token == "}":
			if inLocation {
				inLocation = false
			} else {
				inServer = false
			}
		case inLocation:
			applyLocationDirective(&v, stmt)
		case inServer:
			if err := applyServerDirective(&v, stmt); err != nil {
				return VHost{}, err
			}
		}
	}
	if !found {
		return VHost{}, fmt.Errorf("nginx config: no server block")
	}
	return v, nil
}

func applyServerDirective(v *VHost, stmt []string) error {
	if len(stmt) < 2 {
		return nil
	}
	switch stmt[0] {
	case "listen":
		addr := stmt[1]
		if _, port, err := net.SplitHostPort(addr); err == nil {
			addr = port
		}
		port, err := strconv.Atoi(addr)
		if err != nil {
			return fmt.Errorf("nginx config: invalid listen %q", stmt[1])
		}
		v.ListenPort = port
	case "server_name":
		v.ServerName = stmt[1]
	case "ssl_certificate":
		v.TLSCertPath = stmt[1]
	case "ssl_certificate_key":
		v.TLSKeyPath = stmt[1]
	}
	return nil
}

func applyLocationDirective(v *VHost, stmt []string) {
	switch {
	case len(stmt) >= 2 && stmt[0] == "proxy_pass":
		v.UpstreamURL = stmt[1]
	case len(stmt) >= 3 && stmt[0] == "proxy_set_header" && strings.EqualFold(stmt[1], "Upgrade"):
		v.WebsocketUpgrade = true
	}
}

// tokenizeNginx splits config text into words and the punctuation { } ;.
// Quotes group words; # starts a comment to end of line.
func tokenizeNginx(text string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '#':
			flush()
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '"' || c == '\'':
			end := strings.IndexByte(text[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("nginx config: unterminated quote")
			}
			cur.WriteString(text[i+1 : i+1+end])
			i += end + 1
		case c == '{' || c == '}' || c == ';':
			flush()
			tokens = append(tokens, string(c))
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

type nginxParser struct {
	tokens []string
	pos    int
}

func (p *nginxParser) done() bool {
	return p.pos >= len(p.tokens)
}

// next returns the next statement and the token that ended it: ";" for a
// directive, "{" for a block opener, "}" for a block close (with no words).
func (p *nginxParser) next() (stmt []string, token string, err error) {
	if p.tokens[p.pos] == "}" {
		p.pos++
		return nil, "}", nil
	}
	for !p.done() {
		tok := p.tokens[p.pos]
		p.pos++
		switch tok {
		case ";", "{":
			if len(stmt) == 0 {
				return nil, "", fmt.Errorf("nginx config: unexpected %q", tok)
			}
			return stmt, tok, nil
		case "}":
			return nil, "", fmt.Errorf("nginx config: unexpected } after %v", stmt)
		default:
			stmt = append(stmt, tok)
		}
	}
	return nil, "", fmt.Errorf("nginx config: unterminated statement %v", stmt)
}

func (p *nginxParser) skipBlock() error {
	depth := 1
	for !p.done() {
		switch p.tokens[p.pos] {
		case "{":
			depth++
		case "}":
			depth--
		}
		p.pos++
		if depth == 0 {
			return nil
		}
	}
	return fmt.Errorf("nginx config: unterminated block")
}
