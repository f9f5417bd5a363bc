package dispatch

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLift(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		want   Value
		wantOK bool
	}{
		{"bool", true, Bool(true), true},
		{"float", 42.5, Number(42.5), true},
		{"int", 7, Number(7), true},
		{"json_number", json.Number("12"), Number(12), true},
		{"string", "Kitchen", String("Kitchen"), true},
		{"null", nil, Value{}, false},
		{"array", []any{1.0}, Value{}, false},
		{"object", map[string]any{}, Value{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lift(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.True(t, tt.want.Equal(got))
			}
		})
	}
}

func TestArgsEqualAndKey(t *testing.T) {
	a := Args{String("Kitchen"), Number(1)}
	b := Args{String("Kitchen"), Number(1)}
	swapped := Args{Number(1), String("Kitchen")}
	retagged := Args{String("Kitchen"), String("1")}

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())

	assert.False(t, a.Equal(swapped))
	assert.NotEqual(t, a.Key(), swapped.Key())

	assert.False(t, a.Equal(retagged))
	assert.NotEqual(t, a.Key(), retagged.Key())

	// a comma inside a string must not forge a second argument
	assert.NotEqual(t, Strings("a,s:\"b\"").Key(), Strings("a", "b").Key())
}

func TestArgsKey_SignedZero(t *testing.T) {
	neg := Args{Number(math.Copysign(0, -1))}
	pos := Args{Number(0)}

	require.True(t, neg.Equal(pos))
	assert.Equal(t, pos.Key(), neg.Key())
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal(Args{Bool(true), Number(2), String("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `[true, 2, "x"]`, string(b))

	p, err := json.Marshal(Param{Name: "on", Type: TypeBoolean})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"on","type":"boolean"}`, string(p))
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"boolean": TypeBoolean, "Number": TypeNumber, "string": TypeString, "bool": TypeBoolean} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("table")
	assert.Error(t, err)
}
