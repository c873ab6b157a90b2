package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContext_RoundTrip(t *testing.T) {
	t.Parallel()
	p := &Principal{Token: "tok", Claims: &Claims{Subject: "u1"}, Profile: Profile{"sub": "u1"}}
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	t.Parallel()
	got, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestPrincipalFromContext_NilPrincipal(t *testing.T) {
	t.Parallel()
	ctx := ContextWithPrincipal(context.Background(), nil)
	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok, "a nil principal must not be reported as present")
}

func TestPrincipalContext_Overwrite(t *testing.T) {
	t.Parallel()
	ctx := ContextWithPrincipal(context.Background(), &Principal{Token: "first"})
	ctx = ContextWithPrincipal(ctx, &Principal{Token: "second"})

	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "second", got.Token)
}
