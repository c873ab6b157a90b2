package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/gatekeeper/internal/testutil"
	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "extra segments ignored", header: "Bearer tok extra stuff", want: "tok"},
		{name: "absent", header: "", wantErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "lowercase scheme", header: "bearer tok", wantErr: true},
		{name: "scheme only", header: "Bearer", wantErr: true},
		{name: "empty token", header: "Bearer ", wantErr: true},
		{name: "double space", header: "Bearer  tok", wantErr: true},
		{name: "leading space", header: " Bearer tok", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := mapHeaders{}
			if tt.header != "" {
				h[HeaderAuthorization] = tt.header
			}
			got, err := ExtractBearerToken(h)
			if tt.wantErr {
				testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationMissing)
				assert.True(t, IsMissingAuthorization(err))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractBearerToken_HTTPHeaderIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("AUTHORIZATION", "Bearer tok")

	got, err := ExtractBearerToken(h)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}

func TestExtractBearerToken_NilHeaders(t *testing.T) {
	t.Parallel()
	_, err := ExtractBearerToken(nil)
	assert.True(t, IsMissingAuthorization(err))
}
