package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidRequest, http.StatusBadRequest},
		{KindFetch, http.StatusBadRequest},
		{KindExtraction, http.StatusInternalServerError},
		{KindLLMRateLimited, http.StatusTooManyRequests},
		{KindLLMTransient, http.StatusServiceUnavailable},
		{KindLLMMalformed, http.StatusInternalServerError},
		{KindLLMFatal, http.StatusInternalServerError},
		{KindSchema, http.StatusUnprocessableEntity},
		{KindNotFound, http.StatusNotFound},
		{KindCancelForbidden, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.kind, "x").HTTPStatus())
		})
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	t.Parallel()

	base := Wrap(KindFetch, errors.New("dial tcp: no such host"), "Failed to fetch URL")
	wrapped := eris.Wrap(base, "pipeline: fetch")

	assert.Equal(t, KindFetch, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindFetch))
	assert.False(t, Is(wrapped, KindSchema))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Contains(t, e.Error(), "no such host")
}

func TestSchemaCarriesMissing(t *testing.T) {
	t.Parallel()

	err := Schema("missing top-level keys", []string{"faq_block", "raw_data"})
	assert.Equal(t, KindSchema, err.Kind)
	assert.Equal(t, []string{"faq_block", "raw_data"}, err.Missing)
	assert.Equal(t, "schema_error: missing top-level keys", err.Error())
}
