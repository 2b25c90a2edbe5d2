// Package clrc663 implements a driver for the CLRC663 NFC front-end,
// exposing the chip-agnostic nfc/ll.Reader capability over either an I2C
// or an SPI Bus.
//
// Datasheet: https://www.nxp.com/docs/en/data-sheet/CLRC663.pdf
package clrc663

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"cardlink.dev/internal/clock"
	"cardlink.dev/nfc/ll"
)

// FIFOSize is the number of bytes that can be written or read in one go
// without risking overflow.
const FIFOSize = 256

// Device drives a CLRC663 front-end over Bus.
type Device struct {
	bus   Bus
	nrst  gpio.PinIO // reset/power-down pin, may be nil if wired permanently high.
	clock clock.Clock

	// CRC presets for the active protocol.
	rxCRCPreset, txCRCPreset byte
	// txDataNum is the TxDataNum register value (TxLastBits + DataEn).
	txDataNum byte
	// rxBitCtrl is the RxBitCtrl register value (RxAlign etc).
	rxBitCtrl byte

	lpcdBaseline lpcdReading
	// lpcdOff is the calibrated detection-band half-width around
	// lpcdBaseline, computed once per calibrateLPCD run.
	lpcdOff int

	scratch [FIFOSize]byte
}

// New returns a Device driving bus. nrst may be nil if the chip's NRSTPD
// pin is wired permanently high.
func New(bus Bus, nrst gpio.PinIO) *Device {
	return &Device{bus: bus, nrst: nrst, clock: clock.Real{}}
}

type Protocol int

const (
	ISO15693 Protocol = iota
	ISO14443a
)

// Configure resets the chip and waits for it to come up idle.
func (d *Device) Configure() error {
	if d.nrst != nil {
		if err := d.nrst.Out(gpio.High); err != nil {
			return fmt.Errorf("clrc663: power up: %w", err)
		}
	}
	if err := d.writeRegs(
		regCommand, cmdIdle,
		regCommand, cmdSoftReset,
	); err != nil {
		return fmt.Errorf("clrc663: soft reset: %w", err)
	}
	if err := d.waitForIdle(); err != nil {
		return fmt.Errorf("clrc663: soft reset: %w", err)
	}
	return nil
}

func (d *Device) SetPadEnable(padEn byte) error {
	return d.writeRegs(regPadEn, padEn)
}

func (d *Device) SetPadOutput(padOut byte) error {
	return d.writeRegs(regPadOut, padOut)
}

func (d *Device) SetCRC(tx, rx bool) {
	if tx {
		d.txCRCPreset |= 0b1
	} else {
		d.txCRCPreset &^= 0b1
	}
	if rx {
		d.rxCRCPreset |= 0b1
	} else {
		d.rxCRCPreset &^= 0b1
	}
}

// RadioOn loads the preset protocol and antenna configuration for prot
// from EEPROM, the way the CLRC663 is meant to be configured (datasheet
// section 9.3, "LoadProtocol" and "LoadReg" commands).
func (d *Device) RadioOn(prot Protocol) error {
	var (
		rxProtocol, txProtocol byte
		eepromAddr             uint16
	)
	switch prot {
	case ISO15693:
		rxProtocol, txProtocol = protocol_ISO15693_26_SSC_26_1_4, protocol_ISO15693_26_SSC_26_1_4
		eepromAddr = eepromAddrISO15693_SLI_1_4_SSC_26
	case ISO14443a:
		rxProtocol, txProtocol = protocol_ISO14443A_106_MILLER_MANCHESTER, protocol_ISO14443A_106_MILLER_MANCHESTER
		eepromAddr = eepromAddrISO14443A_106
	default:
		panic("clrc663: invalid protocol")
	}
	if err := d.runCommand(cmdLoadProtocol, rxProtocol, txProtocol); err != nil {
		return fmt.Errorf("clrc663: load protocol: %w", err)
	}
	if err := d.waitForIdle(); err != nil {
		return err
	}

	const eepromLength = regRxAna - regDrvMode + 1
	if err := d.runCommand(
		cmdLoadReg,
		byte(eepromAddr>>8), byte(eepromAddr&0xff),
		regDrvMode,
		eepromLength,
	); err != nil {
		return fmt.Errorf("clrc663: load reg: %w", err)
	}
	if err := d.waitForIdle(); err != nil {
		return err
	}

	presets := d.scratch[:3]
	if err := d.bus.ReadRegs(regTxCrcPreset, presets); err != nil {
		return fmt.Errorf("clrc663: read crc presets: %w", err)
	}
	d.txCRCPreset, d.rxCRCPreset, d.txDataNum = presets[0], presets[1], presets[2]
	rxBitCtrl, err := d.bus.ReadReg(regRxBitCtrl)
	if err != nil {
		return fmt.Errorf("clrc663: read rxbitctrl: %w", err)
	}
	d.rxBitCtrl = rxBitCtrl
	return nil
}

func (d *Device) RadioOff() error {
	if err := d.writeRegs(regCommand, cmdIdle|commandModemOff); err != nil {
		return fmt.Errorf("clrc663: modem off: %w", err)
	}
	if d.nrst != nil {
		if err := d.nrst.Out(gpio.Low); err != nil {
			return fmt.Errorf("clrc663: power down: %w", err)
		}
	}
	return nil
}

// writeRegs writes a list of (register, value) pairs in one pass.
func (d *Device) writeRegs(regVals ...byte) error {
	if len(regVals)%2 != 0 {
		panic("clrc663: register values not paired")
	}
	for i := 0; i < len(regVals); i += 2 {
		if err := d.bus.WriteReg(regVals[i], regVals[i+1]); err != nil {
			return fmt.Errorf("clrc663: %w", err)
		}
	}
	return nil
}

func (d *Device) runCommand(cmd byte, args ...byte) error {
	if err := d.bus.WriteFIFO(args); err != nil {
		return err
	}
	if err := d.writeRegs(regCommand, cmd); err != nil {
		return fmt.Errorf("clrc663: command %#.2x: %w", cmd, err)
	}
	return nil
}

// irqs bundles the status registers read together once per poll
// iteration: IRQ0, IRQ1 and Error (datasheet registers 0x06-0x0A are
// consecutive, so one burst read covers IRQ0, IRQ1, IRQ0En, IRQ1En, Error).
type irqs struct {
	irq0, irq1, err byte
}

func (d *Device) readIRQs() (irqs, error) {
	buf := d.scratch[:5]
	if err := d.bus.ReadRegs(regIRQ0, buf); err != nil {
		return irqs{}, err
	}
	return irqs{irq0: buf[0], irq1: buf[1], err: buf[4]}, nil
}

func (d *Device) waitForIdle() error {
	for {
		st, err := d.readIRQs()
		if err != nil {
			return err
		}
		if st.err&errProtocolErr != 0 {
			return fmt.Errorf("command error (code %#.2x)", st.err)
		}
		if st.irq0&irqIdle != 0 {
			return nil
		}
	}
}
