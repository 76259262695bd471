package errors

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordsCallSite(t *testing.T) {
	err := New("bad value %d", 7)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "bad value 7")
}

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrapf(nil, "context"))
	})

	t.Run("keeps the chain", func(t *testing.T) {
		err := Wrapf(io.EOF, "reading %s", "config")
		assert.True(t, Is(err, io.EOF))
		assert.Contains(t, err.Error(), "reading config: EOF")
		assert.Contains(t, err.Error(), "errors_test.go:")
	})
}

type codeErr struct{ code int }

func (c *codeErr) Error() string { return "code" }

func TestAsAndJoin(t *testing.T) {
	joined := Join(nil, Wrapf(&codeErr{code: 3}, "outer"))
	var ce *codeErr
	require.True(t, As(joined, &ce))
	assert.Equal(t, 3, ce.code)

	s := Sentinel("plain")
	assert.Equal(t, "plain", s.Error())
}
