package clrc663

import (
	"context"
	"testing"

	"cardlink.dev/nfc/ll"
)

func TestBinarySearch(t *testing.T) {
	cases := []struct {
		threshold int
		want      int
	}{
		{0, 0},
		{3, 3},
		{7, 7},
		{8, 8},
	}
	for _, c := range cases {
		got := binarySearch(0, 8, func(v int) bool { return v >= c.threshold })
		if got != c.want {
			t.Errorf("binarySearch(threshold=%d) = %d, want %d", c.threshold, got, c.want)
		}
	}
}

// TestCalibrateLPCDGainSearch exercises calibrateLPCD's phase 1 gain search
// end to end against a simulated ADC that returns max(0, 128-3*gain_idx)
// for gain index 0..31, centre 64: the smallest index with a reading below
// centre is 22.
func TestCalibrateLPCDGainSearch(t *testing.T) {
	bus := newFakeBus()
	bus.onWrite = func(addr, val byte) {
		if addr != regRxAna {
			return
		}
		reading := 128 - 3*int(val)
		if reading < 0 {
			reading = 0
		}
		if reading > lpcdADCRange {
			reading = lpcdADCRange // the real ADC saturates at its top code.
		}
		bus.regs[regLPCD_I_Result] = byte(reading)
		bus.regs[regLPCD_Q_Result] = byte(reading)
	}
	d := New(bus, nil)

	if err := d.calibrateLPCD(); err != nil {
		t.Fatalf("calibrateLPCD: %v", err)
	}
	want := lpcdGainLevels[22]
	if got := bus.regs[regRxAna]; got != want {
		t.Fatalf("regRxAna left at %#.2x, want gain index 22 (%#.2x)", got, want)
	}
}

// fakeBus is an in-memory Bus backed by a flat register file, and a FIFO
// that replays a scripted response once the command register is written
// with cmdTransceive.
type fakeBus struct {
	regs [0x80]byte
	fifo []byte
	rxAt int

	// script is consumed on a write to regCommand == cmdTransceive: it
	// loads fifo with the response and marks IRQ0 rx-complete.
	response []byte

	// onWrite, if set, is called after every register write, letting a
	// test synthesize register state (e.g. LPCD measurement results) that
	// depends on what was last written.
	onWrite func(addr, val byte)
}

func newFakeBus() *fakeBus {
	b := &fakeBus{}
	return b
}

func (b *fakeBus) ReadReg(addr byte) (byte, error) {
	if addr == regFIFOLength {
		return byte(len(b.fifo) - b.rxAt), nil
	}
	return b.regs[addr], nil
}

func (b *fakeBus) WriteReg(addr byte, val byte) error {
	switch addr {
	case regIRQ0, regIRQ1:
		// Like the chip: bit 7 selects whether the other bits written as 1
		// are set or cleared.
		if val&0x80 != 0 {
			b.regs[addr] |= val & 0x7F
		} else {
			b.regs[addr] &^= val & 0x7F
		}
	default:
		b.regs[addr] = val
	}
	if addr == regCommand && val == cmdTransceive {
		b.fifo = append([]byte(nil), b.response...)
		b.rxAt = 0
		b.regs[regIRQ0] |= irqTx | irqRx
	}
	if addr == regCommand && val == cmdLPCD {
		b.regs[regIRQ1] |= irq1LPCD
	}
	if b.onWrite != nil {
		b.onWrite(addr, val)
	}
	return nil
}

func (b *fakeBus) ReadRegs(addr byte, buf []byte) error {
	for i := range buf {
		v, err := b.ReadReg(addr + byte(i))
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (b *fakeBus) ReadFIFO(buf []byte) error {
	n := copy(buf, b.fifo[b.rxAt:])
	b.rxAt += n
	return nil
}

func (b *fakeBus) WriteFIFO(data []byte) error { return nil }

func TestTransceiveReqA(t *testing.T) {
	bus := newFakeBus()
	bus.response = []byte{0x04, 0x00}
	d := New(bus, nil)

	rx := make([]byte, 2)
	n, err := d.Transceive(context.Background(), nil, rx, ll.ReqA())
	if err != nil {
		t.Fatalf("Transceive: %v", err)
	}
	if n != 16 {
		t.Fatalf("got %d bits, want 16", n)
	}
	if rx[0] != 0x04 || rx[1] != 0x00 {
		t.Fatalf("got % x, want 04 00", rx)
	}
}

func TestTransceiveAnticollNoCollision(t *testing.T) {
	bus := newFakeBus()
	// Full 4-byte UID + BCC, no collision.
	bus.response = []byte{0x01, 0x02, 0x03, 0x04, 0x01 ^ 0x02 ^ 0x03 ^ 0x04}
	d := New(bus, nil)

	tx := []byte{0x93, 0x20}
	rx := make([]byte, 8)
	n, err := d.Transceive(context.Background(), tx, rx, ll.Anticoll(16))
	if err != nil {
		t.Fatalf("Transceive: %v", err)
	}
	if n != 16+40 {
		t.Fatalf("got %d bits, want %d", n, 16+40)
	}
	want := []byte{0x93, 0x20, 0x01, 0x02, 0x03, 0x04, 0x01 ^ 0x02 ^ 0x03 ^ 0x04}
	for i, b := range want {
		if rx[i] != b {
			t.Fatalf("rx[%d] = %#.2x, want %#.2x (full: % x)", i, rx[i], b, rx)
		}
	}
}

func TestTransceiveAnticollCollision(t *testing.T) {
	bus := newFakeBus()
	// Two bytes echoed back before the chip reports a collision at bit 13
	// of the response (collpos counts from the start of the UID bits).
	bus.response = []byte{0x01, 0x02}
	// Transceive clears the IRQs and rewrites RxColl before it starts, so
	// the collision is reported once the exchange has been launched.
	bus.onWrite = func(addr, val byte) {
		if addr == regCommand && val == cmdTransceive {
			bus.regs[regError] = errCollDet
			bus.regs[regIRQ0] |= irqErr
			bus.regs[regRxColl] = 13
		}
	}

	d := New(bus, nil)
	tx := []byte{0x93, 0x20}
	rx := make([]byte, 8)
	n, err := d.Transceive(context.Background(), tx, rx, ll.Anticoll(16))
	if err != nil {
		t.Fatalf("Transceive: %v", err)
	}
	want := 16 + 13 - 1
	if n != want {
		t.Fatalf("got %d bits, want %d", n, want)
	}
}

// TestTransceiveAnticollPartialByte exercises a continuation round where the
// known-bits count isn't a byte multiple: tx carries a partial last byte
// whose unused high bits are garbage (not zeroed), and the assembled rx must
// still only reflect the card's own bits there, never the caller's garbage.
// RxAlign puts the chip's newly-received bits in the high nibble of the
// first FIFO byte, which is why its low nibble is 0 below.
func TestTransceiveAnticollPartialByte(t *testing.T) {
	bus := newFakeBus()
	// 20 known bits (16 cmd/NVB + 4 UID bits): the chip returns the
	// remaining 4 bits of the partial byte (high nibble, here 0) plus the
	// last 3 UID bytes + BCC, no collision.
	bcc := byte(0x01 ^ 0x02 ^ 0x03 ^ 0x04)
	bus.response = []byte{0x00, 0x02, 0x03, 0x04, bcc}
	d := New(bus, nil)

	// uid[0] low nibble (0x1) is the 4 known bits; high nibble is garbage
	// that must never leak into the assembled rx.
	tx := []byte{0x93, 0x24, 0xF1, 0x02}
	rx := make([]byte, 8)
	n, err := d.Transceive(context.Background(), tx, rx, ll.Anticoll(20))
	if err != nil {
		t.Fatalf("Transceive: %v", err)
	}
	if n != 16+40 {
		t.Fatalf("got %d bits, want %d", n, 16+40)
	}
	want := []byte{0x93, 0x24, 0x01, 0x02, 0x03, 0x04, bcc}
	for i, b := range want {
		if rx[i] != b {
			t.Fatalf("rx[%d] = %#.2x, want %#.2x (full: % x)", i, rx[i], b, rx)
		}
	}
}
