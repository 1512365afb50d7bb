package interp_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacsson/lamarik/internal/builtin"
	"github.com/dacsson/lamarik/internal/heap"
	"github.com/dacsson/lamarik/internal/image"
	"github.com/dacsson/lamarik/internal/interp"
	"github.com/dacsson/lamarik/internal/verify"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// scenario1 is image_test.go's canonical fixture: BEGIN 2 0 ; CONST 2 ;
// CONST 3 ; BINOP ADD ; LINE 1 ; STORE Global 0 ; DROP ; LINE 2 ; LINE 4 ;
// LOAD Global 0 ; CALL Lwrite ; END ; HALT. The pre-frame's two padding argument slots
// satisfy main's declared arg count of 2.
var scenario1 = []byte{
	0x05, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x6d, 0x61, 0x69, 0x6e, 0x00, 0x52, 0x02, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x02, 0x00, 0x00, 0x00, 0x10, 0x03, 0x00,
	0x00, 0x00, 0x01, 0x5a, 0x01, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x18,
	0x5a, 0x02, 0x00, 0x00, 0x00, 0x5a, 0x04, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00,
	0x00, 0x71, 0x16, 0xff,
}

func runProgram(t *testing.T, img *image.Image, stdin string) (string, error) {
	t.Helper()
	_, err := verify.Verify(img, verify.TestCeiling)
	require.NoError(t, err)

	h := heap.New()
	var out bytes.Buffer
	d := builtin.New(strings.NewReader(stdin), &out, h)
	vm := interp.New(img, nil, h, d, nil, verify.TestCeiling)
	err = vm.Run()
	return out.String(), err
}

func TestRunScenario1WritesSum(t *testing.T) {
	img, err := image.Parse(scenario1)
	require.NoError(t, err)

	out, err := runProgram(t, img, "")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}

// buildProgram hand-assembles a single-symbol image whose public symbol
// is "main" at code offset 0, with a string table built from strs (each
// NUL-terminated, in order) and the given code section.
func buildProgram(t *testing.T, globalAreaSize int, strs []string, code []byte) (*image.Image, map[string]int) {
	t.Helper()

	table := []byte{}
	offsets := map[string]int{}
	for _, s := range strs {
		offsets[s] = len(table)
		table = append(table, []byte(s)...)
		table = append(table, 0)
	}
	mainOff, ok := offsets["main"]
	require.True(t, ok, "buildProgram requires \"main\" among strs")

	u32 := func(n int) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(n))
		return b
	}

	raw := append([]byte{}, u32(len(table))...)
	raw = append(raw, u32(globalAreaSize)...)
	raw = append(raw, u32(1)...)
	raw = append(raw, u32(0)...)
	raw = append(raw, u32(mainOff)...)
	raw = append(raw, table...)
	raw = append(raw, code...)

	img, err := image.Parse(raw)
	require.NoError(t, err)
	return img, offsets
}

func TestRunBarrayAndLlength(t *testing.T) {
	// BEGIN 2 0 ; CONST 1 ; CONST 2 ; CONST 3 ; CALL Barray 3 ;
	// CALL Llength ; CALL Lwrite ; END ; HALT
	code := []byte{
		0x52, 2, 0, 0, 0, 0, 0, 0, 0,
		0x10, 1, 0, 0, 0,
		0x10, 2, 0, 0, 0,
		0x10, 3, 0, 0, 0,
		0x74, 3, 0, 0, 0,
		0x72,
		0x71,
		0x16,
		0xff,
	}
	img, _ := buildProgram(t, 0, []string{"main"}, code)

	out, err := runProgram(t, img, "")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestRunSexpTagMatches(t *testing.T) {
	// BEGIN 2 0 ; CONST 1 ; CONST 0 ; SEXP "cons" 2 ; TAG "cons" 2 ;
	// CALL Lwrite ; END ; HALT
	code := []byte{
		0x52, 2, 0, 0, 0, 0, 0, 0, 0,
		0x10, 1, 0, 0, 0,
		0x10, 0, 0, 0, 0,
		0x12, 0, 0, 0, 0, 2, 0, 0, 0,
		0x57, 0, 0, 0, 0, 2, 0, 0, 0,
		0x71,
		0x16,
		0xff,
	}
	img, offsets := buildProgram(t, 0, []string{"cons", "main"}, code)
	require.Equal(t, 0, offsets["cons"])

	out, err := runProgram(t, img, "")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestRunElemOutOfBoundsIsFatal(t *testing.T) {
	// BEGIN 2 0 ; CALL Barray 0 ; CONST 1 ; ELEM ; END ; HALT
	code := []byte{
		0x52, 2, 0, 0, 0, 0, 0, 0, 0,
		0x74, 0, 0, 0, 0,
		0x10, 1, 0, 0, 0,
		0x1b,
		0x16,
		0xff,
	}
	img, _ := buildProgram(t, 0, []string{"main"}, code)

	_, err := runProgram(t, img, "")
	require.Error(t, err)
	var oob *vmerr.OutOfBoundsAccess
	assert.True(t, errors.As(err, &oob), "expected OutOfBoundsAccess, got %v", err)
}

func TestRunClosureCaptureAndCall(t *testing.T) {
	// adder lives right after main in the code section:
	// CBEGIN 1 0 ; LOAD Arg 0 ; LOAD Capture 0 ; BINOP ADD ; END
	adder := []byte{
		0x53, 1, 0, 0, 0, 0, 0, 0, 0,
		0x22, 0, 0, 0, 0,
		0x23, 0, 0, 0, 0,
		0x01,
		0x16,
	}
	// main (BEGIN 2 1):
	// CONST 10 ; STORE Local 0 ; DROP ; CLOSURE <adderOff> 1 (Local 0) ;
	// CONST 5 ; CALLC 1 ; CALL Lwrite ; END
	mainPrologue := []byte{0x52, 2, 0, 0, 0, 1, 0, 0, 0}
	mainBody := []byte{
		0x10, 10, 0, 0, 0,
		0x41, 0, 0, 0, 0,
		0x18,
	}
	closureInstr := []byte{0x54, 0, 0, 0, 0, 1, 0, 0, 0, 0x01, 0, 0, 0, 0}
	mainTail := []byte{
		0x10, 5, 0, 0, 0,
		0x55, 1, 0, 0, 0,
		0x71,
		0x16,
	}
	adderOff := len(mainPrologue) + len(mainBody) + len(closureInstr) + len(mainTail)
	binary.LittleEndian.PutUint32(closureInstr[1:5], uint32(adderOff))

	code := append([]byte{}, mainPrologue...)
	code = append(code, mainBody...)
	code = append(code, closureInstr...)
	code = append(code, mainTail...)
	code = append(code, adder...)
	code = append(code, 0xff)

	img, _ := buildProgram(t, 0, []string{"main"}, code)

	out, err := runProgram(t, img, "")
	require.NoError(t, err)
	assert.Equal(t, "15\n", out)
}
