package st25r3916

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// Bus is the register-level capability a ST25R3916 transport must
// provide: one transaction writing w and reading len(r) bytes back,
// addressed the way the datasheet's mode-prefixed register protocol
// expects (the caller always supplies the mode/address byte(s) in w).
type Bus interface {
	Tx(w, r []byte) error
}

// I2CBus drives the chip over I2C.
type I2CBus struct {
	Dev *i2c.Dev
}

func (b I2CBus) Tx(w, r []byte) error {
	if err := b.Dev.Tx(w, r); err != nil {
		return fmt.Errorf("st25r3916: i2c: %w", err)
	}
	return nil
}
