// Package st25r3916 implements a driver for the [ST25R3916] NFC reader
// device in initiator (PCD) mode, exposing the chip-agnostic
// nfc/ll.Reader capability.
//
// [ST25R3916]: https://www.st.com/resource/en/datasheet/st25r3916.pdf
package st25r3916

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"cardlink.dev/internal/clock"
)

// Device drives an ST25R3916 front-end over Bus, using irq for
// interrupt-driven polling (periph's gpio.PinIO.WaitForEdge).
type Device struct {
	bus   Bus
	irq   gpio.PinIO
	clock clock.Clock

	prot       Protocol
	excludeCRC bool

	scratch [256]byte
}

// FIFOSize is the number of bytes that can be
// read without risking overflow.
const FIFOSize = 512 - 2 // Make room for the CRC bytes.

type Protocol int

const (
	ISO15693 Protocol = iota
	ISO14443a
)

// interrupts represent a set of interrupt statuses or masks.
type interrupts struct {
	Main    byte
	Timer   byte
	Passive byte
	Error   byte
}

const (
	// General timeout to guard against hangs, excessive receive times etc.
	defTimeout = 1 * time.Second

	// fieldOnGuard is the settling time after turning the field on before
	// the first transceive, per the datasheet's field-on guard time.
	fieldOnGuard = 5 * time.Millisecond

	// Card detection thresholds.
	ampSens   = 2
	phaseSens = 2
)

var errTimeout = errors.New("timeout")

func New(b Bus, irq gpio.PinIO) *Device {
	return &Device{bus: b, irq: irq, clock: clock.Real{}}
}

// Configure resets the chip and brings its oscillator and regulators up.
func (d *Device) Configure() error {
	if err := d.irq.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return fmt.Errorf("st25r3916: irq pin: %w", err)
	}
	if err := d.command(cmdSetDefault); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	datasheetSetup := d.scratch[:3]
	datasheetSetup[0] = cmdTestAccess
	datasheetSetup[1] = 0x04
	datasheetSetup[2] = 0x10
	if err := d.bus.Tx(datasheetSetup, nil); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	if err := d.writeRegs(
		regIOConf1, 0b11<<out_cl|0b1<<lf_clk_off|0b01<<i2c_thd, // Disable the MCU_CLK pin, 400 kHz i2c.
		regIOConf2, 0b1<<io_drv_lvl, // Increase IO drive strength, as recommended in table 20.
		regResAMMod, 0b1<<fa3_f|0<<md_res, // Minimum non-overlap.
		regExtFieldAct, 0b001<<trg_l|0b0001<<rfe_t, // Lower activation threshold.
		regExtFieldDeact, 0b000<<trg_ld|0b000<<rfe_td, // Lower deactivation threshold.
		regPassiveTargetMod, 0x5f, // Reduce RFO resistance in modulated state.
		regEMDSupConf, 0b1<<rx_start_emv, // Enable start on first 4 bits.
		regTimerEMVCtrl, 0b001<<gptc, // Start timer at end of rx.
		regWakeupCtrl, 0b010<<wut|0b1<<wur|0b1<<wam|0b1<<wph, // Enable card detection methods, set measure period.
		regAmplitudeMeasCtrl, ampSens<<am_d|0b1<<am_ae|0b1<<am_aam|0b10<<am_aew, // Set amplitude measurement delta, auto-averaging reference.
		regPhaseMeasCtrl, phaseSens<<pm_d|0b1<<pm_ae|0b1<<pm_aam|0b10<<pm_aew, // Set phase measurement delta, auto-averaging reference.
	); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	if err := d.enable(); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	if err := d.command(cmdGotoSense); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	if err := d.writeRegs(
		regRegulatorCtrl, 0b1<<reg_s,
		regRegulatorCtrl, 0b0<<reg_s,
	); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	if _, err := d.commandAndWait(cmdAdjustRegulator, interrupts{Timer: 0b1 << i_dct}, defTimeout); err != nil {
		return fmt.Errorf("st25r3916: reset: %w", err)
	}
	return nil
}

func (d *Device) enable() error {
	aux, err := d.readReg(regAuxDisp)
	if err != nil {
		return err
	}
	if aux&(0b1<<osc_ok) != 0 {
		return nil
	}
	mask := interrupts{Main: 0b1 << i_osc}
	if err := d.resetInterruptMask(mask); err != nil {
		return err
	}
	if err := d.writeReg(regOpCtrl, 0b1<<en); err != nil {
		return err
	}
	_, err = d.waitForInterrupt(context.Background(), defTimeout)
	return err
}

// SetProtocol loads the RX/TX analog configuration for prot.
func (d *Device) SetProtocol(prot Protocol) error {
	if err := d.configureProtocol(prot); err != nil {
		return fmt.Errorf("st25r3916: protocol: %w", err)
	}
	return nil
}

// FieldOn turns on the RF field and waits out the field-on guard time,
// the initiator-mode counterpart of the original listen-mode Detect.
func (d *Device) FieldOn() error {
	if err := d.enable(); err != nil {
		return fmt.Errorf("st25r3916: field on: %w", err)
	}
	mask := interrupts{Timer: 0b1 << i_dct}
	if _, err := d.commandAndWait(cmdInitialFieldOn, mask, defTimeout); err != nil {
		return fmt.Errorf("st25r3916: field on: %w", err)
	}
	if err := d.writeReg(regOpCtrl, 0b1<<en|0b1<<rx_en|0b1<<tx_en); err != nil {
		return fmt.Errorf("st25r3916: field on: %w", err)
	}
	time.Sleep(fieldOnGuard)
	return nil
}

func (d *Device) FieldOff() error {
	if err := d.writeReg(regOpCtrl, 0); err != nil {
		return fmt.Errorf("st25r3916: field off: %w", err)
	}
	return nil
}

func (d *Device) Sleep() error {
	if err := d.command(cmdGotoSleep); err != nil {
		return fmt.Errorf("st25r3916: sleep: %w", err)
	}
	return nil
}

func (i interrupts) Union(i2 interrupts) interrupts {
	return interrupts{
		Main:    i.Main | i2.Main,
		Timer:   i.Timer | i2.Timer,
		Error:   i.Error | i2.Error,
		Passive: i.Passive | i2.Passive,
	}
}

// waitForInterrupt blocks (subject to ctx and timeout) for the IRQ pin to
// rise, then reads and classifies the pending status.
func (d *Device) waitForInterrupt(ctx context.Context, timeout time.Duration) (interrupts, error) {
	for {
		if err := ctx.Err(); err != nil {
			return interrupts{}, err
		}
		if !d.irq.WaitForEdge(timeout) {
			return interrupts{}, errTimeout
		}
		intrs, mask, err := d.interruptStatus()
		if err != nil {
			return interrupts{}, err
		}
		intrs.Main &= mask.Main
		intrs.Timer &= mask.Timer
		intrs.Passive &= mask.Passive
		intrs.Error &= mask.Error

		switch {
		case intrs.Error&(0b1<<i_crc) != 0:
			err = errors.New("CRC error")
		case intrs.Error&(0b1<<i_par) != 0:
			err = errors.New("parity error")
		case intrs.Error&(0b1<<i_err2) != 0:
			err = errors.New("soft framing error")
		case intrs.Error&(0b1<<i_err1) != 0:
			err = errors.New("hard framing error")
		case intrs.Timer&(0b1<<i_nre) != 0:
			err = errors.New("response timeout")
		}
		if err != nil || intrs != (interrupts{}) {
			return intrs, err
		}
	}
}

func (d *Device) resetInterruptMask(mask interrupts) error {
	req := d.scratch[:5]
	req[0] = regMaskMainIntr
	req[1] = ^mask.Main
	req[2] = ^mask.Timer
	req[3] = ^mask.Error
	req[4] = ^mask.Passive
	if err := d.bus.Tx(req, nil); err != nil {
		return err
	}
	_, _, err := d.interruptStatus()
	return err
}

func (d *Device) interruptStatus() (intrs interrupts, mask interrupts, err error) {
	req, resp := d.scratch[:1], d.scratch[1:4]
	req[0] = modeReadReg | regTimerNFCIntr
	if err := d.bus.Tx(req, resp); err != nil {
		return interrupts{}, interrupts{}, err
	}
	intrs = interrupts{
		Timer:   resp[0],
		Error:   resp[1],
		Passive: resp[2],
	}
	// The main interrupt register is read last, because reading it also
	// clears the error interrupt register.
	req, resp = d.scratch[:1], d.scratch[1:6]
	req[0] = modeReadReg | regMaskMainIntr
	if err := d.bus.Tx(req, resp); err != nil {
		return interrupts{}, interrupts{}, err
	}
	intrs.Main = resp[4]
	mask = interrupts{
		Main:    ^resp[0],
		Timer:   ^resp[1],
		Error:   ^resp[2],
		Passive: ^resp[3],
	}
	return intrs, mask, nil
}

func (d *Device) configureProtocol(prot Protocol) error {
	type config struct {
		opMode      byte
		rxConf      [4]byte
		corrConf    [2]byte
		overshoot   [2]byte
		undershoot  [2]byte
		maskReceive byte
		nrt         uint16
		iso14443a   byte
	}
	var conf config
	switch prot {
	case ISO14443a:
		conf = config{
			opMode:      omISO14443A,
			rxConf:      [...]byte{0x08, 0x2d, 0x00, 0x00},
			corrConf:    [...]byte{0x51, 0x00},
			overshoot:   [...]byte{0x40, 0x03},
			undershoot:  [...]byte{0x40, 0x03},
			maskReceive: 0x0e,
			nrt:         0x23,
			iso14443a:   0x00,
		}
	case ISO15693:
		conf = config{
			opMode:      omISO15693,
			rxConf:      [...]byte{0x13, 0x25, 0x00, 0x00},
			corrConf:    [...]byte{0x13, 0x01},
			overshoot:   [...]byte{0x00, 0x00},
			undershoot:  [...]byte{0x00, 0x00},
			maskReceive: 0x41,
			nrt:         0x52,
			iso14443a:   0b1<<no_tx_par | 0b1<<no_rx_par,
		}
	default:
		panic("st25r3916: invalid protocol")
	}
	if err := d.writeRegs(
		regModeDef, conf.opMode,
		regRXConf1, conf.rxConf[0],
		regRXConf2, conf.rxConf[1],
		regRXConf3, conf.rxConf[2],
		regRXConf4, conf.rxConf[3],
		regCorrConf1, conf.corrConf[0],
		regCorrConf2, conf.corrConf[1],
		regOvershootConf1, conf.overshoot[0],
		regOvershootConf2, conf.overshoot[1],
		regUndershootConf1, conf.undershoot[0],
		regUndershootConf2, conf.undershoot[1],
		regMaskRecieveTimer, conf.maskReceive,
		regNoResponseTimer1, byte(conf.nrt>>8),
		regNoResponseTimer2, byte(conf.nrt),
		regISO14443AConf, conf.iso14443a,
	); err != nil {
		return fmt.Errorf("st25r3916: %w", err)
	}
	d.prot = prot
	return nil
}

func (d *Device) writeTXLen(bytes int, bits byte) error {
	const maxTxSize = 0b1<<13 - 1
	if bytes > FIFOSize || bytes > maxTxSize {
		return fmt.Errorf("st25r3916: write fifo: buffer too large: %d bytes", bytes)
	}
	if bits > 0 {
		bytes--
	}
	req := d.scratch[:3]
	req[0] = modeWriteReg | regNumTX1
	req[1] = byte(bytes >> 5)
	req[2] = byte((bytes&0b11111)<<3) | bits
	return d.bus.Tx(req, nil)
}

func (d *Device) writeFIFO(tx []byte, txBits byte) error {
	if err := d.writeTXLen(len(tx), txBits); err != nil {
		return err
	}
	req := d.scratch[:]
	req[0] = modeFIFO | loadFIFO
	for len(tx) > 0 {
		n := copy(req[1:], tx)
		tx = tx[n:]
		if err := d.bus.Tx(req[:n+1], nil); err != nil {
			return fmt.Errorf("st25r3916: load fifo: %w", err)
		}
	}
	return nil
}

// readFIFO reads the received frame out of the FIFO, classifying the status
// bits the chip reports alongside it the way rnfc-st25r39's transceive does:
// an overrun/underrun or a malformed last byte is reported before the
// length is even trusted, and a frame that would overflow the caller's
// buffer is reported rather than silently truncated.
func (d *Device) readFIFO(buf []byte) (int, error) {
	req, fifoStatus := d.scratch[:1], d.scratch[1:3]
	req[0] = modeReadReg | regFIFOStatus1
	if err := d.bus.Tx(req, fifoStatus); err != nil {
		return 0, err
	}
	switch {
	case fifoStatus[1]&(0b1<<fifo_ovr) != 0:
		return 0, errFifoOverflow
	case fifoStatus[1]&(0b1<<fifo_unf) != 0:
		return 0, errFifoUnderflow
	case fifoStatus[1]&fifo_lb_mask != 0:
		return 0, errFramingLastByteIncomplete
	case fifoStatus[1]&(0b1<<np_lb) != 0:
		return 0, errFramingLastByteMissingParity
	}
	fifoLen := int(fifoStatus[1]&0b1100_0000)<<2 | int(fifoStatus[0])
	if d.excludeCRC {
		if fifoLen < 2 {
			return 0, errResponseTooShort
		}
		fifoLen -= 2
	}
	if fifoLen > len(buf) {
		return 0, errResponseTooLong(fifoLen, len(buf))
	}
	req = d.scratch[:1]
	req[0] = modeFIFO | readFIFO
	if err := d.bus.Tx(req, buf[:fifoLen]); err != nil {
		return 0, err
	}
	return fifoLen, nil
}

func (d *Device) readReg(reg byte) (byte, error) {
	isSpaceB := reg&spaceB != 0
	reg &^= spaceB
	req, res := d.scratch[:2], d.scratch[2:3]
	req[0] = cmdSpaceBAccess
	req[1] = modeReadReg | reg
	if !isSpaceB {
		req = req[1:]
	}
	err := d.bus.Tx(req, res)
	return res[0], err
}

func (d *Device) writeRegs(values ...byte) error {
	for i := 0; i < len(values); i += 2 {
		if err := d.writeReg(values[i], values[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeReg(reg, val byte) error {
	isSpaceB := reg&spaceB != 0
	reg &^= spaceB
	req := d.scratch[:3]
	req[0] = cmdSpaceBAccess
	req[1] = modeWriteReg | reg
	req[2] = val
	if !isSpaceB {
		req = req[1:]
	}
	return d.bus.Tx(req, nil)
}

func (d *Device) commandAndWait(cmd byte, mask interrupts, timeout time.Duration) (interrupts, error) {
	if err := d.resetInterruptMask(mask); err != nil {
		return interrupts{}, err
	}
	if err := d.command(cmd); err != nil {
		return interrupts{}, err
	}
	return d.waitForInterrupt(context.Background(), timeout)
}

func (d *Device) command(cmd byte) error {
	req := d.scratch[:1]
	req[0] = modeCommand | cmd
	return d.bus.Tx(req, nil)
}
