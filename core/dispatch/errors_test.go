package dispatch

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestRejectKeepsKindAndHint(t *testing.T) {
	err := reject(ErrOfferExpired, "offer %s", "o1")
	assert.True(t, errors.Is(err, ErrOfferExpired))
	assert.False(t, errors.Is(err, ErrOfferNotOpen))
	assert.Equal(t, "offer o1: offer expired", err.Error())

	wrapped := fmt.Errorf("api: %w", err)
	k, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindOfferExpired, k)
	assert.Equal(t, "this offer has expired", Hint(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
	assert.Empty(t, Hint(errors.New("boom")))
}
