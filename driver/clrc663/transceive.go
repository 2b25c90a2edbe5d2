package clrc663

import (
	"context"
	"fmt"

	"cardlink.dev/nfc/ll"
)

// lowLevelError is the chip-specific error type wrapped into every failure
// returned from Transceive, classified via Kind() so nfc/ll.Kind can walk
// the Unwrap chain and decide whether to retry.
type lowLevelError struct {
	msg  string
	kind ll.ErrorKind
}

func (e *lowLevelError) Error() string      { return "clrc663: " + e.msg }
func (e *lowLevelError) Kind() ll.ErrorKind { return e.kind }

func errTimeout(msg string) error    { return &lowLevelError{msg, ll.Timeout} }
func errCorruption(msg string) error { return &lowLevelError{msg, ll.Corruption} }
func errOther(msg string) error      { return &lowLevelError{msg, ll.Other} }

// Transceive implements nfc/ll.Reader: a single command-based
// fill-FIFO/poll-IRQ/drain-FIFO exchange, with the bit-level anticollision
// merge that reassembles a partial-byte response around a reported
// collision position.
func (d *Device) Transceive(ctx context.Context, tx []byte, rx []byte, opts ll.Frame) (int, error) {
	var (
		frame    []byte
		crc      bool
		lastBits byte
		rxAlign  byte
	)
	switch opts.Kind() {
	case ll.FrameAnticoll:
		bits := opts.Bits
		frame = tx[:(bits+7)/8]
		lastBits = byte(bits % 8)
		rxAlign = lastBits
	case ll.FrameReqA:
		frame = []byte{0x26}
		lastBits = 7
	case ll.FrameWupA:
		frame = []byte{0x52}
		lastBits = 7
	case ll.FrameStandard:
		frame = tx
		crc = true
	default:
		return 0, errOther(fmt.Sprintf("unsupported frame %v", opts))
	}

	d.SetCRC(crc, crc)

	if err := d.writeRegs(
		regCommand, cmdIdle,
		regFIFOControl, 1<<4, // flush FIFO
		regIRQ0, 0x7F,
		regIRQ1, 0x7F,
		regTxCrcPreset, d.txCRCPreset,
		regRxCrcPreset, d.rxCRCPreset,
	); err != nil {
		return 0, errOther(err.Error())
	}

	anticoll := opts.Kind() == ll.FrameAnticoll
	var valuesAfterColl byte
	if !anticoll {
		valuesAfterColl = 0b1 << 7
	}
	if err := d.writeRegs(regRxColl, valuesAfterColl); err != nil {
		return 0, errOther(err.Error())
	}

	txPos := 0
	writeFIFO := func() error {
		if txPos >= len(frame) {
			return nil
		}
		n := min(FIFOSize, len(frame)-txPos)
		if err := d.bus.WriteFIFO(frame[txPos : txPos+n]); err != nil {
			return err
		}
		txPos += n
		return nil
	}
	rxPos := 0
	readFIFO := func() error {
		lvl, err := d.bus.ReadReg(regFIFOLength)
		if err != nil {
			return err
		}
		n := int(lvl)
		if n == 0 {
			return nil
		}
		if rxPos+n > len(rx) {
			return fmt.Errorf("rx overflow: received %d but buffer is only %d", rxPos+n, len(rx))
		}
		if err := d.bus.ReadFIFO(rx[rxPos : rxPos+n]); err != nil {
			return err
		}
		rxPos += n
		return nil
	}

	if err := writeFIFO(); err != nil {
		return 0, errOther(err.Error())
	}
	if err := d.writeRegs(
		regTxDataNum, txDataNumDataEn|lastBits,
		regRxBitCtrl, d.rxBitCtrl&^byte(0x07)|rxAlign,
		regCommand, cmdTransceive,
	); err != nil {
		return 0, errOther(err.Error())
	}

	collision := false
	txDone := false
loop:
	for {
		select {
		case <-ctx.Done():
			d.abort()
			return 0, errTimeout("context canceled")
		default:
		}

		st, err := d.readIRQs()
		if err != nil {
			return 0, errOther(err.Error())
		}

		if st.irq1&irq1Timer != 0 {
			d.abort()
			return 0, errTimeout("no response within frame waiting time")
		}
		if st.irq0&irqErr != 0 {
			switch {
			case st.err&errCollDet != 0:
				collision = true
			case st.err&errBufferOvfl != 0:
				d.abort()
				return 0, errOther("fifo buffer overflow")
			case st.err&errCRCErr != 0 && !collision:
				d.abort()
				return 0, errCorruption("bad crc")
			case st.err&errParityErr != 0 && !collision:
				d.abort()
				return 0, errCorruption("parity error")
			case st.err&errProtocolErr != 0:
				d.abort()
				return 0, errCorruption("protocol error")
			}
		}
		if st.irq0&irqTx != 0 {
			txDone = true
		}
		if st.irq0&irqRx != 0 {
			break loop
		}

		if txDone {
			if err := readFIFO(); err != nil {
				d.abort()
				return 0, errOther(err.Error())
			}
		} else if err := writeFIFO(); err != nil {
			d.abort()
			return 0, errOther(err.Error())
		}
	}

	if txPos != len(frame) {
		d.abort()
		return 0, errOther("tx fifo underflow: tx done fired before all bytes were written")
	}
	if err := readFIFO(); err != nil {
		d.abort()
		return 0, errOther(err.Error())
	}

	if opts.Kind() == ll.FrameAnticoll {
		bits := opts.Bits
		shift := bits / 8
		for i := len(rx) - 1; i >= rxPos+shift; i-- {
			rx[i] = 0
		}
		for i := rxPos - 1; i >= 0; i-- {
			rx[i+shift] = rx[i]
		}
		copy(rx[:shift], frame[:shift])
		if bits%8 != 0 {
			bytePart := frame[bits/8]
			mask := byte(1<<(bits%8)) - 1
			rx[bits/8] |= bytePart & mask
		}

		// A collision at bit i means only 0..i-1 are valid. CollPos is
		// 1-based; 0 is a reserved encoding meaning "bit 32".
		var totalBits int
		if collision {
			collReg, err := d.bus.ReadReg(regRxColl)
			if err != nil {
				return 0, errOther(err.Error())
			}
			collPos := int(collReg & 0x1F)
			if collPos == 0 {
				collPos = 32
			}
			totalBits = bits + collPos - 1
		} else {
			totalBits = bits/8*8 + rxPos*8
		}
		return totalBits, nil
	}

	if collision {
		return 0, errCorruption("collision on a standard frame")
	}
	return rxPos * 8, nil
}

// abort halts the running command and clears FIFO/IRQ state, leaving the
// chip ready for the next exchange. Errors are ignored: abort only runs
// when we're already returning a failure.
func (d *Device) abort() {
	_ = d.writeRegs(
		regCommand, cmdIdle,
		regFIFOControl, 1<<4,
		regIRQ0, 0x7F,
		regIRQ1, 0x7F,
	)
}
