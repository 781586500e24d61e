package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KeyOrderIndependent(t *testing.T) {
	a := Map{
		"zebra": String("z"),
		"apple": String("a"),
		"nested": Map{
			"beta":  Number("2"),
			"alpha": Number("1"),
		},
	}
	b := Map{
		"nested": Map{
			"alpha": Number("1"),
			"beta":  Number("2"),
		},
		"apple": String("a"),
		"zebra": String("z"),
	}

	ea, err := Encode(a)
	require.NoError(t, err)
	eb, err := Encode(b)
	require.NoError(t, err)

	assert.Equal(t, string(ea), string(eb))
	assert.Equal(t, `{"apple":"a","nested":{"alpha":1,"beta":2},"zebra":"z"}`, string(ea))
}

func TestEncode_EmptyMapIsNil(t *testing.T) {
	data, err := Encode(Map{})
	require.NoError(t, err)
	assert.Nil(t, data)

	// A map holding only null entries canonicalizes to empty as well.
	data, err = Encode(Map{"gone": Null{}})
	require.NoError(t, err)
	assert.Nil(t, data)

	// Nested empty maps encode inline, not as NULL.
	data, err = Encode(Map{"inner": Map{}})
	require.NoError(t, err)
	assert.Equal(t, `{"inner":{}}`, string(data))
}

func TestCanonicalize_Idempotent(t *testing.T) {
	values := []Value{
		Map{"amount": Number("100.0"), "status": String("active"), "missing": Null{}},
		List{String("a"), Map{"k": Bool(true)}, Number("3")},
		String("café"),
		Null{},
		Bool(false),
	}

	for _, v := range values {
		once := Canonicalize(v)
		twice := Canonicalize(once)
		e1, err := Encode(once)
		require.NoError(t, err)
		e2, err := Encode(twice)
		require.NoError(t, err)
		assert.Equal(t, string(e1), string(e2))
	}
}

func TestCanonicalize_DropsNullMapEntries(t *testing.T) {
	m := CanonicalizeMap(Map{
		"status":   String("active"),
		"supplier": Null{},
	})

	_, hasSupplier := m["supplier"]
	assert.False(t, hasSupplier)
	assert.Equal(t, String("active"), m["status"])
}

func TestCanonicalize_PreservesListOrder(t *testing.T) {
	v := Canonicalize(List{Number("3"), Number("1"), Number("2")})
	data, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `[3,1,2]`, string(data))
}

func TestCanonicalize_NFCNormalizesStrings(t *testing.T) {
	// "é" composed vs decomposed must encode identically.
	composed := Map{"name": String("café")}
	decomposed := Map{"name": String("café")}

	assert.True(t, Equal(composed, decomposed))
}

func TestEncode_NoHTMLEscaping(t *testing.T) {
	data, err := Encode(Map{"note": String("a<b & c>d")})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"a<b & c>d"}`, string(data))
}

func TestEqual_AbsentVersusNull(t *testing.T) {
	assert.True(t, Equal(Map{"a": String("x"), "b": Null{}}, Map{"a": String("x")}))
	assert.False(t, Equal(Map{"a": String("x")}, Map{"a": String("y")}))
}

func TestEncode_NumberKeepsLiteral(t *testing.T) {
	a, err := Encode(Map{"amount": Number("100")})
	require.NoError(t, err)
	b, err := Encode(Map{"amount": Number("100.0")})
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
	assert.Equal(t, `{"amount":100}`, string(a))
	assert.Equal(t, `{"amount":100.0}`, string(b))
}
