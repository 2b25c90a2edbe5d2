package st25r3916

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"cardlink.dev/nfc/ll"
)

// fakeIRQ is a gpio.PinIO standing in for the chip's physical IRQ line:
// raised reports whatever the test last armed it with on every
// WaitForEdge call, since the register state driving the test is already
// static and gated per-stage by the mask bits Device itself writes.
type fakeIRQ struct {
	raised bool
}

func (p *fakeIRQ) String() string                { return "fakeIRQ" }
func (p *fakeIRQ) Name() string                  { return "fakeIRQ" }
func (p *fakeIRQ) Number() int                   { return -1 }
func (p *fakeIRQ) Function() string              { return "" }
func (p *fakeIRQ) Halt() error                   { return nil }
func (p *fakeIRQ) In(gpio.Pull, gpio.Edge) error { return nil }
func (p *fakeIRQ) Read() gpio.Level              { return gpio.Low }
func (p *fakeIRQ) Pull() gpio.Pull               { return gpio.PullNoChange }
func (p *fakeIRQ) DefaultPull() gpio.Pull        { return gpio.PullNoChange }
func (p *fakeIRQ) Out(gpio.Level) error          { return nil }

func (p *fakeIRQ) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("fakeIRQ: PWM not supported")
}

func (p *fakeIRQ) WaitForEdge(time.Duration) bool { return p.raised }

// fakeBus is an in-memory Bus backed by a flat register file addressed the
// way Device encodes requests: a mode/address byte (optionally preceded by
// the space-B command prefix) followed by burst read or write data.
type fakeBus struct {
	regs [0x40]byte
	fifo []byte
	rxAt int

	onWrite func(reg, val byte)
}

func (b *fakeBus) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	i := 0
	if w[i] == cmdSpaceBAccess {
		i++
	}
	op := w[i]
	mode := op & (0b11 << 6)
	reg := op &^ (0b11 << 6)

	switch mode {
	case modeWriteReg:
		for j, val := range w[i+1:] {
			at := reg + byte(j)
			b.regs[at] = val
			if b.onWrite != nil {
				b.onWrite(at, val)
			}
		}
	case modeReadReg:
		for j := range r {
			r[j] = b.regs[reg+byte(j)]
		}
	case modeFIFO:
		switch op &^ (0b11 << 6) {
		case loadFIFO:
			b.fifo = append(b.fifo, w[i+1:]...)
		case readFIFO:
			n := copy(r, b.fifo[b.rxAt:])
			b.rxAt += n
		}
	}
	return nil
}

func newDevice() (*Device, *fakeBus, *fakeIRQ) {
	bus := &fakeBus{}
	irq := &fakeIRQ{}
	return New(bus, irq), bus, irq
}

func TestTransceiveReqA(t *testing.T) {
	d, bus, irq := newDevice()
	bus.regs[regMainIntr] = 0b1<<i_txe | 0b1<<i_rxs | 0b1<<i_rxe
	bus.fifo = []byte{0x04, 0x00}
	bus.regs[regFIFOStatus1] = byte(len(bus.fifo))
	irq.raised = true

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

func TestTransceiveCollision(t *testing.T) {
	d, bus, irq := newDevice()
	bus.regs[regMainIntr] = 0b1<<i_txe | 0b1<<i_col
	irq.raised = true

	tx := []byte{0x93, 0x20}
	rx := make([]byte, 8)
	_, err := d.Transceive(context.Background(), tx, rx, ll.Anticoll(16))
	if err == nil {
		t.Fatal("expected a collision error")
	}
	if ll.Kind(err) != ll.Corruption {
		t.Fatalf("got kind %v, want Corruption", ll.Kind(err))
	}
}

func TestTransceiveFifoOverflow(t *testing.T) {
	d, bus, irq := newDevice()
	bus.regs[regMainIntr] = 0b1<<i_txe | 0b1<<i_rxs | 0b1<<i_rxe
	bus.regs[regFIFOStatus1+1] = 0b1 << fifo_ovr
	irq.raised = true

	rx := make([]byte, 2)
	_, err := d.Transceive(context.Background(), nil, rx, ll.ReqA())
	if err == nil {
		t.Fatal("expected a fifo overflow error")
	}
	if ll.Kind(err) != ll.Corruption {
		t.Fatalf("got kind %v, want Corruption", ll.Kind(err))
	}
}

func TestTransceiveResponseTooLong(t *testing.T) {
	d, bus, irq := newDevice()
	bus.regs[regMainIntr] = 0b1<<i_txe | 0b1<<i_rxs | 0b1<<i_rxe
	bus.fifo = []byte{0x01, 0x02, 0x03}
	bus.regs[regFIFOStatus1] = byte(len(bus.fifo))
	irq.raised = true

	rx := make([]byte, 2) // shorter than the 3 bytes the chip reports.
	_, err := d.Transceive(context.Background(), nil, rx, ll.ReqA())
	if err == nil {
		t.Fatal("expected a response-too-long error")
	}
	if ll.Kind(err) != ll.Other {
		t.Fatalf("got kind %v, want Other", ll.Kind(err))
	}
}

func TestTransceiveTimeout(t *testing.T) {
	d, _, irq := newDevice()
	irq.raised = false // every WaitForEdge call times out.

	rx := make([]byte, 2)
	_, err := d.Transceive(context.Background(), nil, rx, ll.ReqA())
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if ll.Kind(err) != ll.Timeout {
		t.Fatalf("got kind %v, want Timeout", ll.Kind(err))
	}
}

func TestMeasureVdd(t *testing.T) {
	d, bus, irq := newDevice()
	bus.regs[regTimerNFCIntr] = 0b1 << i_dct
	bus.regs[regADConvOut] = 100 // (100*234+5)/10 = 2340mV
	irq.raised = true

	mv, err := d.measureVdd()
	if err != nil {
		t.Fatalf("measureVdd: %v", err)
	}
	if want := uint32((100*234 + 5) / 10); mv != want {
		t.Fatalf("got %dmV, want %dmV", mv, want)
	}
}

func TestCalibrateCSensor(t *testing.T) {
	d, bus, _ := newDevice()
	bus.onWrite = func(reg, val byte) {
		if reg == regCapSensorCtrl {
			bus.regs[regCapSensor] = 0b1 << cs_cal_end
		}
	}

	res, err := d.calibrateCSensor()
	if err != nil {
		t.Fatalf("calibrateCSensor: %v", err)
	}
	if res&(0b1<<cs_cal_end) == 0 {
		t.Fatalf("got %#.2x, want cs_cal_end set", res)
	}
}
