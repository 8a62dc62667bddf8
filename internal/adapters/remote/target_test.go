package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Target
		addr    string
		wantErr bool
	}{
		{in: "root@203.0.113.7", want: Target{User: "root", Host: "203.0.113.7", Port: 22}, addr: "203.0.113.7:22"},
		{in: "deploy@vpn.example.com:2222", want: Target{User: "deploy", Host: "vpn.example.com", Port: 2222}, addr: "vpn.example.com:2222"},
		{in: "vpn.example.com", want: Target{Host: "vpn.example.com", Port: 22}, addr: "vpn.example.com:22"},
		{in: "root@[2001:db8::1]:2200", want: Target{User: "root", Host: "2001:db8::1", Port: 2200}, addr: "[2001:db8::1]:2200"},
		{in: "root@[2001:db8::1]", want: Target{User: "root", Host: "2001:db8::1", Port: 22}, addr: "[2001:db8::1]:22"},
		{in: "@host", wantErr: true},
		{in: "root@", wantErr: true},
		{in: "root@host:0", wantErr: true},
		{in: "root@host:ssh", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.addr, got.Addr())
		})
	}
}

func TestTarget_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "root@host:22", Target{User: "root", Host: "host", Port: 22}.String())
	assert.Equal(t, "host:2222", Target{Host: "host", Port: 2222}.String())
}
