package clrc663

// Reg is a register that can be both read and written, such as the
// protocol/CRC configuration registers.
type Reg byte

// ROReg is a register that only ever makes sense to read, such as the
// version register or the measurement result registers.
type ROReg byte

// WOReg is a register that only ever makes sense to write, such as the
// command register or the IRQ-acknowledge registers (write-1-to-clear).
type WOReg byte

func (r Reg) Read(b Bus) (byte, error)  { return b.ReadReg(byte(r)) }
func (r Reg) Write(b Bus, v byte) error { return b.WriteReg(byte(r), v) }

// Modify reads the register, applies f to the current value, and writes
// the result back.
func (r Reg) Modify(b Bus, f func(byte) byte) error {
	v, err := r.Read(b)
	if err != nil {
		return err
	}
	return r.Write(b, f(v))
}

func (r ROReg) Read(b Bus) (byte, error) { return b.ReadReg(byte(r)) }

func (r WOReg) Write(b Bus, v byte) error { return b.WriteReg(byte(r), v) }

// Registers with meaningful single-direction access semantics, built on
// top of the plain numeric register map in consts.go.
const (
	regVersionRO  = ROReg(regVersion)
	regCommandWO  = WOReg(regCommand)
	regLPCDIResRO = ROReg(regLPCD_I_Result)
	regLPCDQResRO = ROReg(regLPCD_Q_Result)

	regTxCRCPresetRW = Reg(regTxCrcPreset)
	regRxCRCPresetRW = Reg(regRxCrcPreset)
	regTxDataNumRW   = Reg(regTxDataNum)
	regRxBitCtrlRW   = Reg(regRxBitCtrl)
	regDrvModeRW     = Reg(regDrvMode)
)
