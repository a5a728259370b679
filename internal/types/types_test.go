package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeMarshalNeverNull(t *testing.T) {
	data, err := json.Marshal(Envelope{Summary: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"x","result":{},"next_actions":[],"errors":[]}`, string(data))
}

func TestEnvelopeAddError(t *testing.T) {
	env := NewEnvelope("s")
	env.AddError(nil)
	assert.True(t, env.OK())
	env.AddError(errors.New("boom"))
	assert.Equal(t, []string{"boom"}, env.Errors)
	assert.False(t, env.OK())
}

func TestStatusOpen(t *testing.T) {
	assert.True(t, StatusNew.Open())
	assert.True(t, StatusTriaging.Open())
	assert.False(t, StatusShipped.Open())
	assert.False(t, Status("").Open())
}
