package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"plain", []byte("python"), "python"},
		{"nul terminated", []byte("tick\x00"), "tick"},
		{"padded", Pad("128.36.232.37"), "128.36.232.37"},
		{"garbage after nul", []byte("a\x00bc"), "a"},
		{"empty", nil, ""},
		{"only nul", []byte{0, 0, 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decode(tt.input))
		})
	}
}

func TestEncode(t *testing.T) {
	b := Encode("10.0.0.7")
	assert.Len(t, b, len("10.0.0.7")+1)
	assert.Equal(t, byte(0), b[len(b)-1])
	assert.Equal(t, "10.0.0.7", Decode(b))
}

func TestPad(t *testing.T) {
	b := Pad("")
	assert.Len(t, b, MaxDatagramSize)
	assert.Equal(t, "", Decode(b))

	long := strings.Repeat("x", MaxDatagramSize+10)
	b = Pad(long)
	require.Len(t, b, MaxDatagramSize)
	assert.Equal(t, byte(0), b[MaxDatagramSize-1])
	assert.Len(t, Decode(b), MaxDatagramSize-1)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("python"))
	assert.ErrorIs(t, ValidateName(""), ErrEmptyName)
	assert.ErrorIs(t, ValidateName("a b"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("a\x00"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName(strings.Repeat("n", MaxDatagramSize)), ErrNameTooLong)
}

func TestRegistrationReply(t *testing.T) {
	reply := FormatRegistrationReply("laptop", 16777226)
	assert.Equal(t, "laptop 16777226", reply)

	name, packed, err := ParseRegistrationReply(reply)
	require.NoError(t, err)
	assert.Equal(t, "laptop", name)
	assert.Equal(t, uint32(16777226), packed)

	for _, bad := range []string{"", "laptop", "laptop ", " 12", "laptop -1", "laptop 4294967296"} {
		_, _, err := ParseRegistrationReply(bad)
		assert.ErrorIs(t, err, ErrMalformedReply, bad)
	}
}
