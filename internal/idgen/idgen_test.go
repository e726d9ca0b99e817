package idgen

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantID(t *testing.T) {
	a, b := TenantID(), TenantID()
	require.True(t, strings.HasPrefix(a, "TEN-"))
	assert.NotEqual(t, a, b)

	_, err := ulid.Parse(strings.TrimPrefix(a, "TEN-"))
	assert.NoError(t, err)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("PAY-")
	assert.True(t, strings.HasPrefix(id, "PAY-"))
	assert.Len(t, id, len("PAY-")+26)
}

func TestRequestID(t *testing.T) {
	id := RequestID()
	assert.True(t, ValidRequestID(id))
	assert.False(t, ValidRequestID("not-a-uuid"))
	assert.False(t, ValidRequestID(""))
	assert.False(t, ValidRequestID(strings.Repeat("x", 36)))
}
