package modbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriteSingleCoilRequest_Encode checks the MBAP header and the 0xFF00/0x0000 coil values.
func TestWriteSingleCoilRequest_Encode(t *testing.T) {
	t.Parallel()

	on := WriteSingleCoilRequest(7, 1, 0x0010, true).Encode()
	require.Equal(t, []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x05, 0x00, 0x10, 0xFF, 0x00}, on)

	off := WriteSingleCoilRequest(8, 0, 3, false).Encode()
	require.Equal(t, []byte{0x00, 0x08, 0x00, 0x00, 0x00, 0x06, 0x00, 0x05, 0x00, 0x03, 0x00, 0x00}, off)
}

// TestDecodeFrame_Exception verifies that an exception response becomes *ExceptionError.
func TestDecodeFrame_Exception(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x85, 0x02})

	var exc *ExceptionError
	require.True(t, errors.As(err, &exc))
	require.Equal(t, uint8(FuncCodeWriteSingleCoil), exc.FunctionCode)
	require.Equal(t, uint8(0x02), exc.ExceptionCode)
	require.Contains(t, exc.Error(), "illegal data address")
}

// TestDecodeFrame_Invalid rejects short frames and foreign protocol IDs.
func TestDecodeFrame_Invalid(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte{0x00, 0x01})
	require.Error(t, err)

	_, err = DecodeFrame([]byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x05})
	require.Error(t, err)
}

// TestParseCoilResponse unpacks coil bits least significant bit first.
func TestParseCoilResponse(t *testing.T) {
	t.Parallel()

	f := &ModbusFrame{FunctionCode: FuncCodeReadCoils, Data: []byte{0x02, 0b00000101, 0b00000001}}

	coils, err := f.ParseCoilResponse(9)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true, false, false, false, false, false, true}, coils)

	_, err = f.ParseCoilResponse(17)
	require.Error(t, err)
}

// TestParseWriteCoilResponse_Mismatch rejects an echo for a different address.
func TestParseWriteCoilResponse_Mismatch(t *testing.T) {
	t.Parallel()

	f := WriteSingleCoilRequest(1, 0, 4, true)
	require.NoError(t, f.ParseWriteCoilResponse(4, true))
	require.Error(t, f.ParseWriteCoilResponse(5, true))
	require.Error(t, f.ParseWriteCoilResponse(4, false))
}
