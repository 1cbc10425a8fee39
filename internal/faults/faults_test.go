package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")

	err := fmt.Errorf("fetch inbox: %w", Transient("imap fetch", cause))
	assert.Equal(t, TransientIO, KindOf(err))
	assert.True(t, Is(err, TransientIO))
	assert.False(t, Is(err, ParseFailure))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.False(t, Is(nil, TransientIO))
}

func TestNewNil(t *testing.T) {
	assert.NoError(t, New(StoreFailure, "insert", nil))
}

func TestErrorString(t *testing.T) {
	err := Invalid("schedule 4", errors.New("recipients required"))
	assert.Equal(t, "validation_failure: schedule 4: recipients required", err.Error())

	err = Configf("database.driver %q is not supported", "oracle")
	assert.Equal(t, `fatal_config: database.driver "oracle" is not supported`, err.Error())
}
