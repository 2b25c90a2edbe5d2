package st25r3916

import (
	"context"
	"fmt"
	"time"

	"cardlink.dev/nfc/ll"
)

// lowLevelError is the chip-specific error type wrapped into every failure
// returned from Transceive, classified via Kind() so nfc/ll.Kind can walk
// the Unwrap chain and decide whether to retry. The message carries the
// chip's own finer-grained diagnosis (framing/parity/fifo detail) even
// though most of them map up to the same Corruption kind.
type lowLevelError struct {
	msg  string
	kind ll.ErrorKind
}

func (e *lowLevelError) Error() string      { return "st25r3916: " + e.msg }
func (e *lowLevelError) Kind() ll.ErrorKind { return e.kind }

func errTimeoutKind(msg string) error { return &lowLevelError{msg, ll.Timeout} }
func errCorruption(msg string) error  { return &lowLevelError{msg, ll.Corruption} }
func errOther(msg string) error       { return &lowLevelError{msg, ll.Other} }

// The chip's FIFO status register distinguishes several corruption modes
// beyond a generic "bad frame"; readFIFO returns one of these directly so
// the detail survives for logging even though nfc/ll only sees Corruption.
var (
	errFifoOverflow                 = errCorruption("fifo overflow")
	errFifoUnderflow                = errCorruption("fifo underflow")
	errFramingLastByteIncomplete    = errCorruption("framing: incomplete last byte")
	errFramingLastByteMissingParity = errCorruption("framing: last byte missing parity")
	errResponseTooShort             = errCorruption("response shorter than its own crc")
)

// errResponseTooLong reports a frame the chip received that would not fit
// the caller's rx buffer; this is a local sizing problem, not RF corruption.
func errResponseTooLong(got, want int) error {
	return errOther(fmt.Sprintf("response too long: %d bytes, buffer holds %d", got, want))
}

// fwtDuration converts a frame waiting time expressed in carrier cycles
// (1/13.56MHz) into a wall-clock duration.
func fwtDuration(ticks int) time.Duration {
	return time.Duration(ticks) * time.Second / 13560000
}

// anticollCorrConf1 lowers the correlator threshold for the short,
// parity-less partial-byte frames exchanged during bit-level anticollision;
// it is only ever used under ISO14443a, whose normal operating value
// (restored afterwards) is the 0x51 set by configureProtocol.
const anticollCorrConf1 = 0x11

// Transceive implements nfc/ll.Reader. Unlike the CLRC663 driver, the
// ST25R3916 never reports a bit-level collision position: a Collision
// interrupt during anticollision is propagated as a hard corruption error,
// matching how the chip's own command set resolves collisions (retry the
// whole selection, not a bit at a time).
func (d *Device) Transceive(ctx context.Context, tx []byte, rx []byte, opts ll.Frame) (int, error) {
	var cmd byte
	switch opts.Kind() {
	case ll.FrameReqA:
		cmd = cmdTransmitREQA
	case ll.FrameWupA:
		cmd = cmdTransmitWUPA
	case ll.FrameAnticoll:
		cmd = cmdTransmitWithoutCRC
		bits := opts.Bits
		frame := tx[:(bits+7)/8]
		if err := d.writeFIFO(frame, byte(bits%8)); err != nil {
			return 0, errOther(err.Error())
		}
		if err := d.writeReg(regCorrConf1, anticollCorrConf1); err != nil {
			return 0, errOther(err.Error())
		}
		defer d.writeReg(regCorrConf1, 0x51)
	case ll.FrameStandard:
		cmd = cmdTransmitWithCRC
		if err := d.writeFIFO(tx, 0); err != nil {
			return 0, errOther(err.Error())
		}
		// The chip leaves the CRC it validated at the end of the FIFO
		// content, so readFIFO drops those 2 bytes; short
		// anticollision/ReqA/WupA frames never carry one to begin with.
		d.excludeCRC = true
		defer func() { d.excludeCRC = false }()
	default:
		return 0, errOther(fmt.Sprintf("unsupported frame %v", opts))
	}

	timeout := defTimeout
	if opts.Kind() == ll.FrameStandard {
		if t := fwtDuration(opts.Timeout1fc); t > timeout {
			timeout = t
		}
	}

	if err := d.command(cmd); err != nil {
		return 0, errOther(err.Error())
	}

	if _, err := d.waitStage(ctx, timeout, interrupts{Main: 0b1 << i_txe}); err != nil {
		d.abort()
		return 0, err
	}

	intrs, err := d.waitStage(ctx, timeout, interrupts{Main: 0b1<<i_rxs | 0b1<<i_col, Timer: 0b1 << i_nre})
	if err != nil {
		d.abort()
		return 0, err
	}
	if intrs.Main&(0b1<<i_col) != 0 {
		d.abort()
		return 0, errCorruption("collision")
	}

	intrs, err = d.waitStage(ctx, timeout, interrupts{
		Main:  0b1<<i_rxe | 0b1<<i_col,
		Error: 0b1<<i_crc | 0b1<<i_par | 0b1<<i_err1 | 0b1<<i_err2,
	})
	if err != nil {
		d.abort()
		return 0, err
	}
	if intrs.Main&(0b1<<i_col) != 0 {
		d.abort()
		return 0, errCorruption("collision")
	}

	n, rerr := d.readFIFO(rx)
	if rerr != nil {
		d.abort()
		if _, ok := rerr.(*lowLevelError); ok {
			return 0, rerr
		}
		return 0, errOther(rerr.Error())
	}
	return n * 8, nil
}

// waitStage arms mask, waits for one of its bits to fire (subject to ctx and
// timeout), and classifies the outcome into an nfc/ll error where
// applicable. A nil error with a non-zero interrupts means the caller's
// mask bits (other than the errors classified here) are ready to inspect.
func (d *Device) waitStage(ctx context.Context, timeout time.Duration, mask interrupts) (interrupts, error) {
	if err := d.resetInterruptMask(mask); err != nil {
		return interrupts{}, errOther(err.Error())
	}
	for {
		if err := ctx.Err(); err != nil {
			return interrupts{}, errTimeoutKind(err.Error())
		}
		if !d.irq.WaitForEdge(timeout) {
			return interrupts{}, errTimeoutKind("no response within frame waiting time")
		}
		intrs, hwMask, err := d.interruptStatus()
		if err != nil {
			return interrupts{}, errOther(err.Error())
		}
		intrs.Main &= hwMask.Main
		intrs.Timer &= hwMask.Timer
		intrs.Error &= hwMask.Error
		intrs.Passive &= hwMask.Passive

		switch {
		case intrs.Error&(0b1<<i_crc) != 0:
			return intrs, errCorruption("bad crc")
		case intrs.Error&(0b1<<i_par) != 0:
			return intrs, errCorruption("parity error")
		case intrs.Error&(0b1<<i_err2) != 0:
			return intrs, errCorruption("soft framing error")
		case intrs.Error&(0b1<<i_err1) != 0:
			return intrs, errCorruption("hard framing error")
		case intrs.Timer&(0b1<<i_nre) != 0:
			return intrs, errTimeoutKind("response timeout")
		}
		if intrs != (interrupts{}) {
			return intrs, nil
		}
	}
}

// abort stops the running exchange and clears pending interrupt state,
// leaving the chip ready for the next Transceive call. Errors are ignored:
// abort only runs when a failure is already being returned.
func (d *Device) abort() {
	_ = d.command(cmdStopAll)
	_, _, _ = d.interruptStatus()
}
