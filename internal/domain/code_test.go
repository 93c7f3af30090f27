package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := GenerateCode()
		require.Len(t, code, CodeLength)
		require.NoError(t, ValidateCode(code))
		require.NotContains(t, code, "I")
		require.NotContains(t, code, "O")
		require.Equal(t, strings.ToUpper(code), code)
	}
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "ABCDEF", NormalizeCode("  abcdef\n"))
}

func TestValidateCode(t *testing.T) {
	require.NoError(t, ValidateCode("ABCDEF"))
	require.ErrorIs(t, ValidateCode("ABC"), ErrInvalidCode)
	require.ErrorIs(t, ValidateCode("ABCDEFG"), ErrInvalidCode)
	require.ErrorIs(t, ValidateCode("ABCDE1"), ErrInvalidCode)
	require.ErrorIs(t, ValidateCode("ABCDEO"), ErrInvalidCode)
	require.ErrorIs(t, ValidateCode("abcdef"), ErrInvalidCode)
}
