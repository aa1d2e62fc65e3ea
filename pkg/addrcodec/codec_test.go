package addrcodec

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextToPacked(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint32
	}{
		{"low byte is first octet", "1.0.0.0", 1},
		{"high byte is last octet", "0.0.0.1", 1 << 24},
		{"mixed", "1.2.3.4", 0x04030201},
		{"demo rendezvous point", "128.36.232.37", 0x25E82480},
		{"loopback", "127.0.0.1", 0x0100007F},
		{"groups wrap modulo 256", "256.257.0.300", 0x2C000100},
		{"wide groups wrap", "4294967297.18446744073709551617.0.99999999999999999999", 0xFF000101},
		{"leading zeros", "001.002.003.004", 0x04030201},
		{"zero", "0.0.0.0", 0},
		{"broadcast", "255.255.255.255", 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := TextToPacked(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, packed)
		})
	}
}

func TestTextToPacked_Malformed(t *testing.T) {
	for _, input := range []string{"", "1.2.3", "1.2", "localhost", "1.2.3.4.5", "1.2.x.4", "1..3.4", "-1.2.3.4"} {
		t.Run(input, func(t *testing.T) {
			_, err := TextToPacked(input)
			assert.ErrorIs(t, err, ErrMalformedAddress)
		})
	}
}

func TestPackedTextRoundTrip(t *testing.T) {
	for _, text := range []string{"0.0.0.0", "1.2.3.4", "10.0.0.7", "128.36.232.37", "192.168.1.254", "255.255.255.255"} {
		packed, err := TextToPacked(text)
		require.NoError(t, err)
		assert.Equal(t, text, PackedToText(packed))
	}

	for _, packed := range []uint32{0, 1, 0x7F000001, 0xDEADBEEF, 0xFFFFFFFF} {
		back, err := TextToPacked(PackedToText(packed))
		require.NoError(t, err)
		assert.Equal(t, packed, back)
	}
}

func TestIPConversions(t *testing.T) {
	packed, ok := IPToPacked(net.ParseIP("128.36.232.37"))
	require.True(t, ok)
	assert.Equal(t, "128.36.232.37", PackedToText(packed))
	assert.True(t, PackedToIP(packed).Equal(net.ParseIP("128.36.232.37")))

	_, ok = IPToPacked(net.ParseIP("::1"))
	assert.False(t, ok)

	addr := PackedToUDPAddr(packed, 16001)
	p, port, ok := UDPAddrToPacked(addr)
	require.True(t, ok)
	assert.Equal(t, packed, p)
	assert.Equal(t, 16001, port)

	_, _, ok = UDPAddrToPacked(nil)
	assert.False(t, ok)
}

func TestSelectLocalAddress(t *testing.T) {
	ipnet := func(s string) net.Addr {
		return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}
	}

	t.Run("skips loopback and low first octet", func(t *testing.T) {
		packed, err := SelectLocalAddress([]net.Addr{
			ipnet("127.0.0.1"),
			ipnet("10.1.2.3"),
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			ipnet("192.168.1.20"),
			ipnet("172.16.0.1"),
		})
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.20", PackedToText(packed))
	})

	t.Run("ip addr", func(t *testing.T) {
		packed, err := SelectLocalAddress([]net.Addr{&net.IPAddr{IP: net.ParseIP("128.36.232.37")}})
		require.NoError(t, err)
		assert.Equal(t, "128.36.232.37", PackedToText(packed))
	})

	t.Run("none", func(t *testing.T) {
		_, err := SelectLocalAddress([]net.Addr{ipnet("127.0.0.1"), ipnet("10.0.0.1")})
		assert.ErrorIs(t, err, ErrNoInterfaceFound)

		_, err = SelectLocalAddress(nil)
		assert.ErrorIs(t, err, ErrNoInterfaceFound)
	})
}
