package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesSetKeepsOrder(t *testing.T) {
	var props Properties
	props.Set("id", StringValue("C1"))
	props.Set("ShortName", StringValue("X"))
	props.Set("id", StringValue("C2"))

	assert.Equal(t, []string{"id", "ShortName"}, props.Names())
	v, ok := props.Get("id")
	require.True(t, ok)
	assert.Equal(t, "C2", v.Str())
	assert.False(t, props.Has("missing"))
}

func TestPropertiesMerge(t *testing.T) {
	base := Properties{P("a", StringValue("1")), P("b", StringValue("2"))}
	merged := base.Merge(Properties{P("b", StringValue("3")), P("c", NumberValue(4))})

	assert.Equal(t, []string{"a", "b", "c"}, merged.Names())
	b, _ := merged.Get("b")
	assert.Equal(t, "3", b.Str())
	orig, _ := base.Get("b")
	assert.Equal(t, "2", orig.Str())
}

func TestPropertiesJSONRoundTripKeepsOrder(t *testing.T) {
	props := Properties{
		P("zeta", StringValue("z")),
		P("alpha", ListValue("g1")),
		P("mid", NumberValue(7)),
	}
	data, err := json.Marshal(props)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":["g1"],"mid":7}`, string(data))

	var decoded Properties
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, decoded.Names())
	alpha, _ := decoded.Get("alpha")
	assert.Equal(t, []string{"g1"}, alpha.List())
}

func TestPropertiesUnmarshalDropsNull(t *testing.T) {
	var decoded Properties
	require.NoError(t, json.Unmarshal([]byte(`{"a":null,"b":"x"}`), &decoded))
	assert.Equal(t, []string{"b"}, decoded.Names())
}

func TestFilterMatch(t *testing.T) {
	props := Properties{
		P("Groups", ListValue("g1", "g2")),
		P("ShortName", StringValue("X")),
	}

	assert.True(t, Has("ShortName", StringValue("X")).Match(props))
	assert.False(t, Has("ShortName", StringValue("Y")).Match(props))
	assert.False(t, Has("Missing", StringValue("X")).Match(props))

	assert.True(t, HasNot("ShortName", StringValue("Y")).Match(props))
	assert.False(t, HasNot("ShortName", StringValue("X")).Match(props))
	assert.True(t, HasNot("Missing", StringValue("X")).Match(props))

	assert.True(t, HasAny("Groups", StringValue("g9"), StringValue("g2")).Match(props))
	assert.False(t, HasAny("Groups", StringValue("g9")).Match(props))
	assert.False(t, HasAny("Groups").Match(props))

	assert.True(t, MatchAll(props, []Filter{Has("ShortName", StringValue("X")), HasAny("Groups", StringValue("g1"))}))
	assert.True(t, MatchAll(props, nil))
}
