package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: an error with a suggestion
	err := New(ErrCodeWriterLocked, "index books is locked", nil).
		WithSuggestion("stop the other indexsync process")

	// When: formatting for the CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: index books is locked")
	assert.Contains(t, out, "Hint: stop the other indexsync process")
	assert.Contains(t, out, "Code: ERR_204_WRITER_LOCKED")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Code: ERR_501_INTERNAL")
}

func TestFormatJSON_RoundTripsThroughParseJSON(t *testing.T) {
	// Given: a mutation failure with a cause
	orig := IndexMutationFailure("Book", "unable to add", errors.New("segment closed"))

	// When: encoding and decoding
	data, err := FormatJSON(orig)
	require.NoError(t, err)
	parsed, err := ParseJSON(data)
	require.NoError(t, err)

	// Then: code, details and cause text survive
	assert.True(t, errors.Is(parsed, ErrIndexMutation))
	assert.Equal(t, "Book", parsed.Details["entity_type"])
	assert.Equal(t, "[ERR_207_INDEX_MUTATION] unable to add: segment closed", parsed.Error())
}

func TestLogAttrs_SortsDetails(t *testing.T) {
	err := New(ErrCodeDispatchTransport, "send failed", nil).
		WithDetail("node", "n1").
		WithDetail("index", "books")

	attrs := LogAttrs(err)

	require.Len(t, attrs, 5)
	assert.Equal(t, "index", attrs[3].Key)
	assert.Equal(t, "node", attrs[4].Key)
}
