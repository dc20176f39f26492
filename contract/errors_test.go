package contract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorFormatsOpKindDetail(t *testing.T) {
	err := errNotFound("GetAccessKey", "record '%s' does not exist", "ehr_42")
	assert.EqualError(t, err, "GetAccessKey: NOT_FOUND: record 'ehr_42' does not exist")
}

func TestKindOfRecoversKindThroughWrapping(t *testing.T) {
	base := errUnauthorized("DeleteRecord", "not the patient")
	wrapped := fmt.Errorf("outer context: %w", base)
	assert.Equal(t, KindUnauthorized, KindOf(wrapped))
}

func TestKindOfPlainErrorIsEmpty(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(fmt.Errorf("disk on fire")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestErrorConstructorsCarryTheirKinds(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(errNotFound("op", "x")))
	assert.Equal(t, KindUnauthorized, KindOf(errUnauthorized("op", "x")))
	assert.Equal(t, KindConflict, KindOf(errConflict("op", "x")))
	assert.Equal(t, KindInvalidState, KindOf(errInvalidState("op", "x")))
}
