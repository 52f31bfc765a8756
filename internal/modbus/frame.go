package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type ModbusFrame struct {
	TransactionID uint16 // 2 Bytes - Request/Response Korrelation
	ProtocolID    uint16 // 2 Bytes - Immer 0x0000 für Modbus
	Length        uint16 // 2 Bytes - Anzahl folgender Bytes
	UnitID        uint8  // 1 Byte - Slave Address
	FunctionCode  uint8  // 1 Byte - Modbus Function
	Data          []byte // Variable Länge
}

// Modbus Function Codes
const (
	FuncCodeReadCoils       = 0x01
	FuncCodeWriteSingleCoil = 0x05

	exceptionFlag = 0x80
)

const (
	mbapHeaderSize = 7
	maxFrameSize   = 260

	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// ExceptionError is a device NACK: the response carried the exception bit.
type ExceptionError struct {
	FunctionCode  uint8
	ExceptionCode uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X (%s) for function 0x%02X",
		e.ExceptionCode, exceptionText(e.ExceptionCode), e.FunctionCode)
}

func exceptionText(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x06:
		return "server device busy"
	default:
		return "unknown"
	}
}

// Encode erstellt das komplette TCP Frame
func (f *ModbusFrame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // +2 für UnitID + FunctionCode

	frame := make([]byte, mbapHeaderSize+1+len(f.Data))

	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a received frame and turns exception responses into *ExceptionError.
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < mbapHeaderSize+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > mbapHeaderSize+1 {
		frame.Data = data[mbapHeaderSize+1:]
	}

	if frame.FunctionCode&exceptionFlag != 0 {
		exc := &ExceptionError{FunctionCode: frame.FunctionCode &^ exceptionFlag}
		if len(frame.Data) > 0 {
			exc.ExceptionCode = frame.Data[0]
		}
		return frame, exc
	}

	return frame, nil
}

// WriteSingleCoilRequest erstellt Request für Function Code 0x05
func WriteSingleCoilRequest(transactionID uint16, unitID uint8, addr uint16, on bool) *ModbusFrame {
	value := coilOff
	if on {
		value = coilOn
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &ModbusFrame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  FuncCodeWriteSingleCoil,
		Data:          data,
	}
}

// ReadCoilsRequest erstellt Request für Function Code 0x01
func ReadCoilsRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &ModbusFrame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  FuncCodeReadCoils,
		Data:          data,
	}
}

// ParseWriteCoilResponse checks that the device echoed the address and value.
func (f *ModbusFrame) ParseWriteCoilResponse(addr uint16, on bool) error {
	if f.FunctionCode != FuncCodeWriteSingleCoil {
		return fmt.Errorf("unexpected function code 0x%02X", f.FunctionCode)
	}
	if len(f.Data) < 4 {
		return fmt.Errorf("response too short")
	}

	gotAddr := binary.BigEndian.Uint16(f.Data[0:2])
	gotValue := binary.BigEndian.Uint16(f.Data[2:4])

	want := coilOff
	if on {
		want = coilOn
	}
	if gotAddr != addr || gotValue != want {
		return fmt.Errorf("coil echo mismatch: addr %d value 0x%04X", gotAddr, gotValue)
	}

	return nil
}

// ParseCoilResponse unpacks quantity coil states (LSB first per byte).
func (f *ModbusFrame) ParseCoilResponse(quantity uint16) ([]bool, error) {
	if f.FunctionCode != FuncCodeReadCoils {
		return nil, fmt.Errorf("unexpected function code 0x%02X", f.FunctionCode)
	}
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if len(f.Data) < byteCount+1 || byteCount*8 < int(quantity) {
		return nil, fmt.Errorf("incomplete response data")
	}

	coils := make([]bool, quantity)
	for i := 0; i < int(quantity); i++ {
		coils[i] = f.Data[1+i/8]&(1<<(uint(i)%8)) != 0
	}

	return coils, nil
}
