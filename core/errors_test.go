package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsValidationError(t *testing.T) {
	errInvalid := errors.New("invalid")
	err := errors.Wrap(NewValidationError(errInvalid, FieldError{Field: "year", Error: "too old"}), "validating")

	assert.True(t, IsValidationError(err, errInvalid))
	assert.True(t, IsValidationError(err, nil))
	assert.False(t, IsValidationError(err, errors.New("other")))
	assert.False(t, IsValidationError(errInvalid, nil))
	assert.Equal(t, "validating: invalid", err.Error())
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, IsShutdown(errors.Wrap(NewShutdownError("integrity issue"), "serving")))
	assert.False(t, IsShutdown(errors.New("integrity issue")))
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Acme", CleanString("  Acme \n"))
	assert.Equal(t, "acme", CleanString(" ACME ", true))
}
