package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestInetAddrV4(t *testing.T) {
	addr, err := NewInetAddr("127.0.0.1", 8080)
	require.NoError(t, err)

	assert.Equal(t, unix.AF_INET, addr.Family())
	assert.Equal(t, "127.0.0.1", addr.IP())
	assert.Equal(t, 8080, addr.Port())
	assert.Equal(t, "127.0.0.1:8080", addr.IPPort())

	sa, ok := addr.Sockaddr().(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, 8080, sa.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, sa.Addr)

	back := FromSockaddr(sa)
	assert.Equal(t, addr.IPPort(), back.IPPort())
}

func TestInetAddrV6(t *testing.T) {
	addr, err := NewInetAddr("::1", 9090)
	require.NoError(t, err)

	assert.Equal(t, unix.AF_INET6, addr.Family())
	assert.Equal(t, "[::1]:9090", addr.IPPort())

	sa, ok := addr.Sockaddr().(*unix.SockaddrInet6)
	require.True(t, ok)
	assert.Equal(t, 9090, sa.Port)

	back := FromSockaddr(sa)
	assert.Equal(t, addr.IPPort(), back.IPPort())
}

func TestInetAddrDefaults(t *testing.T) {
	addr, err := NewInetAddr("", 80)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:80", addr.IPPort())

	_, err = NewInetAddr("not-an-ip", 80)
	assert.Error(t, err)
}

func TestParseInetAddr(t *testing.T) {
	var parseTest = []struct {
		in     string
		expect string
		ok     bool
	}{
		{"127.0.0.1:80", "127.0.0.1:80", true},
		{"[::1]:443", "[::1]:443", true},
		{"127.0.0.1", "", false},
		{"127.0.0.1:x", "", false},
	}

	for _, tt := range parseTest {
		addr, err := ParseInetAddr(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.expect, addr.IPPort())
	}
}
