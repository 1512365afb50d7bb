package image_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacsson/lamarik/internal/image"
)

// scenario1 is the canonical fixture shared by the decoder, verifier, and
// interpreter tests: BEGIN 2 0 ; CONST 2 ; CONST 3 ; BINOP ADD ; LINE 1 ;
// STORE Global 0 ; DROP ; LINE 2 ; LINE 4 ; LOAD Global 0 ; CALL Lwrite ;
// END ; HALT.
var scenario1 = []byte{
	0x05, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x6d, 0x61, 0x69, 0x6e, 0x00, 0x52, 0x02, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x02, 0x00, 0x00, 0x00, 0x10, 0x03, 0x00,
	0x00, 0x00, 0x01, 0x5a, 0x01, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x18,
	0x5a, 0x02, 0x00, 0x00, 0x00, 0x5a, 0x04, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00,
	0x00, 0x71, 0x16, 0xff,
}

func TestParseMinimalFile(t *testing.T) {
	img, err := image.Parse(scenario1)
	require.NoError(t, err)

	assert.Equal(t, 1, img.GlobalAreaSize)
	require.Len(t, img.Symbols, 1)

	s, err := img.StringAtOffsetTrimmed(img.Symbols[0].NameOffset)
	require.NoError(t, err)
	assert.Equal(t, "main", s)
}

func TestParseRoundTripsCodeAndStringTable(t *testing.T) {
	img, err := image.Parse(scenario1)
	require.NoError(t, err)

	// 12 header bytes and one 8-byte symbol entry precede the 5-byte
	// string table; the code section is everything after it.
	assert.Equal(t, scenario1[25:], img.Code)
	assert.Equal(t, scenario1[20:25], img.StringTable)
	assert.Equal(t, []image.Symbol{{CodeOffset: 0, NameOffset: 0}}, img.Symbols)
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	_, err := image.Parse(scenario1[:3])
	require.Error(t, err)
}

func TestParseRejectsMissingCodeSection(t *testing.T) {
	// Header claims zero of everything and supplies no bytes past it.
	data := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := image.Parse(data)
	require.Error(t, err)
}

func TestStringAtOffsetOutOfBounds(t *testing.T) {
	img, err := image.Parse(scenario1)
	require.NoError(t, err)

	_, err = img.StringAtOffset(len(img.StringTable) + 1)
	require.Error(t, err)
}
