package gnss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCACodeFirstChips(t *testing.T) {
	// First ten chips in octal from IS-GPS-200: PRN1 1440, PRN2 1620, PRN3 1710.
	cases := map[int]string{1: "1100100000", 2: "1110010000", 3: "1111001000"}
	for prn, want := range cases {
		code, err := CACode(prn)
		require.NoError(t, err)
		got := make([]byte, 10)
		for i := 0; i < 10; i++ {
			if code[i] > 0 {
				got[i] = '1'
			} else {
				got[i] = '0'
			}
		}
		assert.Equal(t, want, string(got), "prn %d", prn)
	}
}

func TestCACodeBalance(t *testing.T) {
	for prn := 1; prn <= NumGpsPRN; prn++ {
		code, err := CACode(prn)
		require.NoError(t, err)
		sum := 0
		for _, c := range code {
			sum += int(c)
		}
		// Gold codes have 512 ones (+1) and 511 zeros (-1).
		assert.Equal(t, 1, sum, "prn %d", prn)
	}
}

func TestCACodeRejectsBadPRN(t *testing.T) {
	_, err := CACode(0)
	assert.Error(t, err)
	_, err = CACode(33)
	assert.Error(t, err)
}

func TestCodeNCOUpsamples(t *testing.T) {
	code, _ := CACode(5)
	rep, rem := CodeNCO(code, CACodeRate, 2*CACodeRate, 0, 2*CACodeLength)
	require.Len(t, rep, 2*CACodeLength)
	for i := 0; i < CACodeLength; i++ {
		assert.Equal(t, float64(code[i]), real(rep[2*i]))
		assert.Equal(t, float64(code[i]), real(rep[2*i+1]))
	}
	assert.InDelta(t, 0, rem, 1e-9)
}
