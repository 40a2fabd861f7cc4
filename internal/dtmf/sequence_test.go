package dtmf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_Deterministic(t *testing.T) {
	a, err := Sequence("123456")
	require.NoError(t, err)
	b, err := Sequence("123456")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSequence_LengthIsFunctionOfCodeLength(t *testing.T) {
	a, err := Sequence("123456")
	require.NoError(t, err)
	b, err := Sequence("987654")
	require.NoError(t, err)
	assert.Equal(t, len(a), len(b))
}

func TestSequence_ContainsCodeAndTerminator(t *testing.T) {
	s, err := Sequence("424242")
	require.NoError(t, err)
	assert.Contains(t, s, "424242")
	assert.True(t, strings.HasSuffix(s, "#"))
}

func TestSequence_RejectsBadCodes(t *testing.T) {
	_, err := Sequence("12345")
	assert.ErrorIs(t, err, ErrCodeLength)

	_, err = Sequence("1234567")
	assert.ErrorIs(t, err, ErrCodeLength)

	_, err = Sequence("12345a")
	assert.ErrorIs(t, err, ErrCodeNotDigits)

	_, err = Sequence("")
	assert.ErrorIs(t, err, ErrCodeLength)
}

func TestStatusSequence_NoCode(t *testing.T) {
	s := StatusSequence()
	assert.NotEmpty(t, s)
	assert.NotContains(t, s, "#")
	assert.Equal(t, s, StatusSequence())
}
