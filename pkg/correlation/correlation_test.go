package correlation

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "req-123_a.b", Sanitize("req-123_a.b"))

	for _, bad := range []string{"", "  ", "has space", "semi;colon", strings.Repeat("a", 65)} {
		out := Sanitize(bad)
		_, err := uuid.Parse(out)
		require.NoError(t, err, "input %q", bad)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, FromContext(ctx))

	ctx = WithID(ctx, "abc")
	assert.Equal(t, "abc", FromContext(ctx))
}
