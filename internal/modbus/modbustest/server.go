// Package modbustest provides an in-process Modbus TCP device for tests.
package modbustest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// LateDelay is how long FaultLate holds back its answer.
const LateDelay = 300 * time.Millisecond

// Fault tells the server how to answer the next request.
type Fault int

const (
	FaultNone Fault = iota
	// FaultException answers with exception code 0x04 (server device failure).
	FaultException
	// FaultDrop closes the connection without answering.
	FaultDrop
	// FaultSilent reads the request and never answers.
	FaultSilent
	// FaultLate answers normally, but only after LateDelay.
	FaultLate
)

// Write is one coil write observed by the server, in arrival order.
type Write struct {
	Address uint16
	On      bool
}

// Server is a minimal Modbus TCP slave supporting function codes 0x01 and 0x05.
type Server struct {
	listener net.Listener

	mu     sync.Mutex
	coils  map[uint16]bool
	writes []Write
	faults []Fault
	conns  int
	// frozen coils ignore writes, so read-back verification sees stale state.
	frozen map[uint16]bool

	wg sync.WaitGroup
}

// NewServer starts listening on a loopback port.
func NewServer() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: l,
		coils:    make(map[uint16]bool),
		frozen:   make(map[uint16]bool),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the listener and waits for connection handlers.
func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// InjectFault queues faults consumed by the next requests, one per request.
func (s *Server) InjectFault(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Freeze makes the coil at addr ignore writes while still acknowledging them.
func (s *Server) Freeze(addr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen[addr] = true
}

// Coil returns the current state of a coil.
func (s *Server) Coil(addr uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coils[addr]
}

// Writes returns a copy of all coil writes applied so far.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Connections returns how many TCP sessions were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) nextFault() Fault {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.faults) == 0 {
		return FaultNone
	}
	f := s.faults[0]
	s.faults = s.faults[1:]
	return f
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := int(binary.BigEndian.Uint16(header[4:6]))
		if length < 2 {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		switch s.nextFault() {
		case FaultDrop:
			return
		case FaultSilent:
			continue
		case FaultException:
			conn.Write(frame(header, []byte{pdu[0] | 0x80, 0x04}))
			continue
		case FaultLate:
			time.Sleep(LateDelay)
		}

		if _, err := conn.Write(frame(header, s.handle(pdu))); err != nil {
			return
		}
	}
}

func (s *Server) handle(pdu []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch pdu[0] {
	case 0x05:
		addr := binary.BigEndian.Uint16(pdu[1:3])
		on := binary.BigEndian.Uint16(pdu[3:5]) == 0xFF00
		s.writes = append(s.writes, Write{Address: addr, On: on})
		if !s.frozen[addr] {
			s.coils[addr] = on
		}
		return pdu
	case 0x01:
		start := binary.BigEndian.Uint16(pdu[1:3])
		quantity := int(binary.BigEndian.Uint16(pdu[3:5]))
		bits := make([]byte, (quantity+7)/8)
		for i := 0; i < quantity; i++ {
			if s.coils[start+uint16(i)] {
				bits[i/8] |= 1 << (uint(i) % 8)
			}
		}
		return append([]byte{0x01, byte(len(bits))}, bits...)
	default:
		return []byte{pdu[0] | 0x80, 0x01}
	}
}

func frame(requestHeader []byte, pdu []byte) []byte {
	out := make([]byte, 7+len(pdu))
	copy(out, requestHeader[:4])
	binary.BigEndian.PutUint16(out[4:6], uint16(len(pdu)+1))
	out[6] = requestHeader[6]
	copy(out[7:], pdu)
	return out
}
