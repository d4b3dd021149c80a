package sim

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// SRAMSize is the size of the simulated 23LC1024 array.
const SRAMSize = 128 * 1024

const (
	sramRead  = 0x03
	sramWrite = 0x02
	sramRDMR  = 0x05
	sramWRMR  = 0x01

	modeByte   = 0x00
	modePage   = 0x80
	modeStream = 0x40
	modeMask   = 0xC0
	pageSize   = 32
)

// SRAM simulates a 23LC1024. It powers up in Stream mode, like the real part.
type SRAM struct {
	mu  sync.Mutex
	cs  *Pin
	mem []byte

	mode byte
	op   byte
	n    int
	addr uint32

	selects    int
	modeWrites int
}

// NewSRAM returns a chip selected by cs.
func NewSRAM(cs *Pin) *SRAM {
	s := &SRAM{cs: cs, mem: make([]byte, SRAMSize), mode: modeStream}
	cs.onEdge = s.edge
	return s
}

func (s *SRAM) selected() bool {
	return s.cs.Read() == gpio.Low
}

// edge terminates the current instruction on either edge of chip select.
func (s *SRAM) edge(l gpio.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
	s.op = 0
	s.addr = 0
	if l == gpio.Low {
		s.selects++
	}
}

func (s *SRAM) exchange(w, r []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range w {
		out := s.clock(b)
		if len(r) != 0 {
			r[i] = out
		}
	}
}

func (s *SRAM) clock(b byte) byte {
	n := s.n
	s.n++
	if n == 0 {
		s.op = b
		return 0
	}
	switch s.op {
	case sramWRMR:
		if n == 1 {
			s.mode = b & modeMask
			s.modeWrites++
		}
	case sramRDMR:
		return s.mode
	case sramRead, sramWrite:
		if n <= 3 {
			s.addr = s.addr<<8 | uint32(b)
			if n == 3 {
				s.addr %= SRAMSize
			}
			return 0
		}
		if s.mode == modeByte && n > 4 {
			// Byte mode moves one byte per instruction.
			return 0
		}
		var out byte
		if s.op == sramWrite {
			s.mem[s.addr] = b
		} else {
			out = s.mem[s.addr]
		}
		switch s.mode {
		case modePage:
			s.addr = s.addr&^(pageSize-1) | (s.addr+1)&(pageSize-1)
		default:
			s.addr = (s.addr + 1) % SRAMSize
		}
		return out
	}
	return 0
}

// Mode returns the mode register.
func (s *SRAM) Mode() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ModeWrites returns how many times the mode register was written.
func (s *SRAM) ModeWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeWrites
}

// Selects returns how many times the chip was selected.
func (s *SRAM) Selects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects
}

// Peek returns a copy of n bytes at addr.
func (s *SRAM) Peek(addr, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, n)
	copy(out, s.mem[addr:])
	return out
}

// Poke stores p at addr without going through the bus.
func (s *SRAM) Poke(addr int, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.mem[addr:], p)
}
