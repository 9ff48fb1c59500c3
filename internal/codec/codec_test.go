package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripScalars(t *testing.T) {
	cases := []struct {
		name  string
		vt    ValueType
		value any
	}{
		{"bool", Boolean, true},
		{"int", Int, int64(42)},
		{"double", Double, 42.5},
		{"string", String, "Temperature"},
		{"base64", Base64Binary, []byte{0xDE, 0xAD, 0xBE, 0xEF}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := Encode(c.value, c.vt)
			require.NoError(t, err)
			decoded, err := Decode(v, c.vt)
			require.NoError(t, err)
			require.Equal(t, c.value, decoded)
			require.Equal(t, Hash(c.value), Hash(decoded))
		})
	}
}

func TestEncodeIntegerRangeBoundaries(t *testing.T) {
	min, max, ok := intRange(Byte)
	require.True(t, ok)

	_, err := Encode(min, Byte)
	require.NoError(t, err)
	_, err = Encode(max, Byte)
	require.NoError(t, err)

	_, err = Encode(min-1, Byte)
	require.Error(t, err)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)

	_, err = Encode(max+1, Byte)
	require.Error(t, err)
	require.ErrorAs(t, err, &rangeErr)
}

func TestEncodeBooleanRejectsNonBinaryInteger(t *testing.T) {
	_, err := Encode(int64(2), Boolean)
	require.Error(t, err)
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
}

func TestEncodeNullIsNullError(t *testing.T) {
	_, err := Encode(nil, Double)
	require.Error(t, err)
	var nullErr *NullError
	require.ErrorAs(t, err, &nullErr)
}

func TestDateTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	v, err := Encode(now, DateTime)
	require.NoError(t, err)
	decoded, err := Decode(v, DateTime)
	require.NoError(t, err)
	require.True(t, now.Equal(decoded.(time.Time)))
}

func TestDateTimeBeforeEpochIsRangeError(t *testing.T) {
	before := time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := Encode(before, DateTime)
	require.Error(t, err)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestArrayEncodeDecode(t *testing.T) {
	values := []any{1.0, 2.0, 3.0}
	v, err := Encode(values, Double)
	require.NoError(t, err)
	require.True(t, v.IsArray)
	decoded, err := Decode(v, Double)
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDurationRoundTrip(t *testing.T) {
	v, err := Encode("PT1.5S", Duration)
	require.NoError(t, err)
	require.Equal(t, 1500.0, v.Value)
	decoded, err := Decode(v, Duration)
	require.NoError(t, err)
	require.Equal(t, "PT1.5S", decoded)
}

func TestDurationRoundTripCanonicalizesToSeconds(t *testing.T) {
	v, err := Encode("P1D", Duration)
	require.NoError(t, err)
	require.Equal(t, 86400000.0, v.Value)
	decoded, err := Decode(v, Duration)
	require.NoError(t, err)
	require.Equal(t, "PT86400S", decoded, "non-second units canonicalize to PT<seconds>S rather than round-tripping the original unit breakdown")

	// the millisecond value itself is what round-trips exactly, not the string form.
	v2, err := Encode(decoded.(string), Duration)
	require.NoError(t, err)
	require.Equal(t, v.Value, v2.Value)
}

func TestHashStableAcrossEqualValues(t *testing.T) {
	require.Equal(t, Hash(42.0), Hash(42.0))
	require.NotEqual(t, Hash(42.0), Hash(43.0))
	require.NotEqual(t, Hash("42"), Hash(42.0))
}
