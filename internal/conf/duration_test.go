package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name string
		dec  Duration
		enc  string
	}{
		{"trim", Duration(1500 * time.Millisecond), `"1.5s"`},
		{"sub-millisecond", Duration(250 * time.Microsecond), `"250µs"`},
		{"zero", 0, `"0s"`},
		{"hours", Duration(2*time.Hour + 3*time.Minute), `"2h3m0s"`},
		{"days", Duration(26 * time.Hour), `"1d2h0m0s"`},
		{"days negative", Duration(-49 * time.Hour), `"-2d1h0m0s"`},
		{"whole days", Duration(3 * 24 * time.Hour), `"3d"`},
	} {
		t.Run(ca.name, func(t *testing.T) {
			enc, err := ca.dec.MarshalJSON()
			require.NoError(t, err)
			require.Equal(t, ca.enc, string(enc))

			var dec Duration
			err = dec.UnmarshalJSON(enc)
			require.NoError(t, err)
			require.Equal(t, ca.dec, dec)
		})
	}
}

func TestDurationMilliseconds(t *testing.T) {
	var dec Duration
	err := dec.UnmarshalJSON([]byte(`1500`))
	require.NoError(t, err)
	require.Equal(t, Duration(1500*time.Millisecond), dec)
	require.Equal(t, int64(1500000), dec.Microseconds())

	err = dec.UnmarshalJSON([]byte(`"2500"`))
	require.NoError(t, err)
	require.Equal(t, Duration(2500*time.Millisecond), dec)

	err = dec.UnmarshalEnv("", "250")
	require.NoError(t, err)
	require.Equal(t, Duration(250*time.Millisecond), dec)

	err = dec.UnmarshalEnv("", "3s")
	require.NoError(t, err)
	require.Equal(t, Duration(3*time.Second), dec)
}

func TestDurationInvalid(t *testing.T) {
	var dec Duration
	err := dec.UnmarshalJSON([]byte(`true`))
	require.EqualError(t, err, "invalid duration: true")

	err = dec.UnmarshalEnv("", "soon")
	require.Error(t, err)
}
