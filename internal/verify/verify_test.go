package verify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacsson/lamarik/internal/image"
	"github.com/dacsson/lamarik/internal/verify"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// scenario1 mirrors image_test.go's fixture: BEGIN 2 0 ; CONST 2 ;
// CONST 3 ; BINOP ADD ; LINE 1 ; STORE Global 0 ; DROP ; LINE 2 ; LINE 4 ;
// LOAD Global 0 ; CALL Lwrite ; END ; HALT.
var scenario1 = []byte{
	0x05, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x6d, 0x61, 0x69, 0x6e, 0x00, 0x52, 0x02, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x02, 0x00, 0x00, 0x00, 0x10, 0x03, 0x00,
	0x00, 0x00, 0x01, 0x5a, 0x01, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x18,
	0x5a, 0x02, 0x00, 0x00, 0x00, 0x5a, 0x04, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00,
	0x00, 0x71, 0x16, 0xff,
}

func TestVerifyScenario1Succeeds(t *testing.T) {
	img, err := image.Parse(scenario1)
	require.NoError(t, err)

	result, err := verify.Verify(img, verify.TestCeiling)
	require.NoError(t, err)
	assert.NotEmpty(t, result.MaxDepth)
}

func buildImage(t *testing.T, globalAreaSize int, code []byte, entry int) *image.Image {
	t.Helper()
	// hand-assemble a single-symbol image with an empty string table.
	header := []byte{0, 0, 0, 0}
	ga := make([]byte, 4)
	ga[0] = byte(globalAreaSize)
	one := []byte{1, 0, 0, 0}
	off := make([]byte, 4)
	off[0] = byte(entry)
	name := []byte{0, 0, 0, 0}

	raw := append([]byte{}, header...)
	raw = append(raw, ga...)
	raw = append(raw, one...)
	raw = append(raw, off...)
	raw = append(raw, name...)
	raw = append(raw, code...)

	img, err := image.Parse(raw)
	require.NoError(t, err)
	return img
}

func TestVerifyRejectsInvalidJumpOffset(t *testing.T) {
	// BEGIN 0 0 ; JMP <code length, i.e. out of bounds>
	code := []byte{
		0x52, 0, 0, 0, 0, 0, 0, 0, 0,
		0x15, 14, 0, 0, 0,
	}
	img := buildImage(t, 1, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
}

func TestVerifyRejectsNegativeJumpOffset(t *testing.T) {
	// BEGIN 0 0 ; JMP -1, the scenario 5 fixture: a negative jump target
	// must not reach bitset.Set/the worklist queue unchecked (it would
	// wrap to a huge uint and panic) and must still be reported as
	// InvalidJumpOffset.
	code := []byte{
		0x52, 0, 0, 0, 0, 0, 0, 0, 0,
		0x15, 0xff, 0xff, 0xff, 0xff,
	}
	img := buildImage(t, 1, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
	var invalid *vmerr.InvalidJumpOffset
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, -1, invalid.Offset)
}

func TestVerifyRejectsStackUnderflow(t *testing.T) {
	// BEGIN 0 0 leaves an abstract height of 6 (the frame prologue);
	// seven DROPs drain that and then underflow on the seventh.
	code := []byte{0x52, 0, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 7; i++ {
		code = append(code, 0x18)
	}
	img := buildImage(t, 1, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
}

func TestVerifyRejectsStoreGlobalOutOfBounds(t *testing.T) {
	// BEGIN 0 0 ; CONST 1 ; STORE Global 0 (global_area_size is 0)
	code := []byte{
		0x52, 0, 0, 0, 0, 0, 0, 0, 0,
		0x10, 1, 0, 0, 0,
		0x40, 0, 0, 0, 0,
	}
	img := buildImage(t, 0, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
}

func TestVerifyRejectsSTI(t *testing.T) {
	code := []byte{
		0x52, 0, 0, 0, 0, 0, 0, 0, 0,
		0x13,
	}
	img := buildImage(t, 1, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
}

func TestVerifyRejectsLOADREF(t *testing.T) {
	code := []byte{
		0x52, 0, 0, 0, 0, 0, 0, 0, 0,
		0x31, 0, 0, 0, 0,
	}
	img := buildImage(t, 1, code, 0)
	_, err := verify.Verify(img, verify.TestCeiling)
	require.Error(t, err)
}
