package clrc663

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"
)

// Bus is the register-level capability a CLRC663 transport must provide.
// FIFO access goes through regFIFOData/regFIFOLength like any other
// register; it has its own methods here only because the I2C variant
// streams multiple bytes per transaction while the SPI variant moves one
// byte per transaction.
type Bus interface {
	ReadReg(addr byte) (byte, error)
	WriteReg(addr byte, val byte) error
	// ReadRegs reads len(buf) consecutive registers starting at addr,
	// relying on the chip's internal address auto-increment.
	ReadRegs(addr byte, buf []byte) error
	ReadFIFO(buf []byte) error
	WriteFIFO(data []byte) error
}

// I2CBus drives the chip over I2C, where the full 7-bit register address
// fits directly in the first byte of every transaction (datasheet section
// 8.1.2, "I2C register addressing").
type I2CBus struct {
	Dev *i2c.Dev
}

func (b I2CBus) ReadReg(addr byte) (byte, error) {
	var rx [1]byte
	if err := b.Dev.Tx([]byte{addr}, rx[:]); err != nil {
		return 0, fmt.Errorf("clrc663: i2c read reg %#.2x: %w", addr, err)
	}
	return rx[0], nil
}

func (b I2CBus) WriteReg(addr byte, val byte) error {
	if err := b.Dev.Tx([]byte{addr, val}, nil); err != nil {
		return fmt.Errorf("clrc663: i2c write reg %#.2x: %w", addr, err)
	}
	return nil
}

func (b I2CBus) ReadRegs(addr byte, buf []byte) error {
	if err := b.Dev.Tx([]byte{addr}, buf); err != nil {
		return fmt.Errorf("clrc663: i2c read regs %#.2x: %w", addr, err)
	}
	return nil
}

func (b I2CBus) ReadFIFO(buf []byte) error {
	if err := b.Dev.Tx([]byte{regFIFOData}, buf); err != nil {
		return fmt.Errorf("clrc663: i2c read fifo: %w", err)
	}
	return nil
}

func (b I2CBus) WriteFIFO(data []byte) error {
	tx := make([]byte, 1+len(data))
	tx[0] = regFIFOData
	copy(tx[1:], data)
	if err := b.Dev.Tx(tx, nil); err != nil {
		return fmt.Errorf("clrc663: i2c write fifo: %w", err)
	}
	return nil
}

// extRegWindow is the indirection register SPI transports must go through
// to reach registers >= 0x40: a plain 6-bit SPI address field can only name
// addresses 0x00-0x3F directly. Grounded on the PN-style SPI register
// access scheme in original_source/rnfc-fm175xx/src/interface/spi.rs.
const extRegWindow = 0x0F

// SPIBus drives the chip over SPI, implementing the PN-style
// extended-register addressing quirk for registers >= 0x40.
type SPIBus struct {
	Dev spi.Conn
}

func (b SPIBus) ReadReg(addr byte) (byte, error) {
	if addr < 0x40 {
		tx := [2]byte{addr<<1 | 0x01, 0x00}
		var rx [2]byte
		if err := b.Dev.Tx(tx[:], rx[:]); err != nil {
			return 0, fmt.Errorf("clrc663: spi read reg %#.2x: %w", addr, err)
		}
		return rx[1], nil
	}
	// Indirect access: select addr through the extended-register window,
	// then read it back through the same window.
	if err := b.writeDirect(extRegWindow, addr|0x80); err != nil {
		return 0, fmt.Errorf("clrc663: spi read ext reg %#.2x: select: %w", addr, err)
	}
	v, err := b.readDirect(extRegWindow)
	if err != nil {
		return 0, fmt.Errorf("clrc663: spi read ext reg %#.2x: %w", addr, err)
	}
	return v, nil
}

func (b SPIBus) WriteReg(addr byte, val byte) error {
	if addr < 0x40 {
		if err := b.writeDirect(addr, val); err != nil {
			return fmt.Errorf("clrc663: spi write reg %#.2x: %w", addr, err)
		}
		return nil
	}
	if err := b.writeDirect(extRegWindow, addr|0x40); err != nil {
		return fmt.Errorf("clrc663: spi write ext reg %#.2x: select: %w", addr, err)
	}
	if err := b.writeDirect(extRegWindow, val); err != nil {
		return fmt.Errorf("clrc663: spi write ext reg %#.2x: %w", addr, err)
	}
	return nil
}

func (b SPIBus) readDirect(addr byte) (byte, error) {
	tx := [2]byte{addr<<1 | 0x01, 0x00}
	var rx [2]byte
	if err := b.Dev.Tx(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return rx[1], nil
}

func (b SPIBus) writeDirect(addr byte, val byte) error {
	tx := [2]byte{addr << 1, val}
	return b.Dev.Tx(tx[:], nil)
}

func (b SPIBus) ReadRegs(addr byte, buf []byte) error {
	for i := range buf {
		v, err := b.ReadReg(addr + byte(i))
		if err != nil {
			return fmt.Errorf("clrc663: spi read regs %#.2x: %w", addr, err)
		}
		buf[i] = v
	}
	return nil
}

func (b SPIBus) ReadFIFO(buf []byte) error {
	for i := range buf {
		v, err := b.readDirect(regFIFOData)
		if err != nil {
			return fmt.Errorf("clrc663: spi read fifo: %w", err)
		}
		buf[i] = v
	}
	return nil
}

func (b SPIBus) WriteFIFO(data []byte) error {
	for _, v := range data {
		if err := b.writeDirect(regFIFOData, v); err != nil {
			return fmt.Errorf("clrc663: spi write fifo: %w", err)
		}
	}
	return nil
}
