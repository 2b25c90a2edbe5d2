package clrc663

const (
	regCommand          = 0x00 //  Starts and stops command execution
	regHostCtrl         = 0x01 //  Host control register
	regFIFOControl      = 0x02 //  Control register of the FIFO
	regWaterLevel       = 0x03 //  Level of the FIFO underflow and overflow warning
	regFIFOLength       = 0x04 //  Length of the FIFO
	regFIFOData         = 0x05 //  Data In/Out exchange register of FIFO buffer
	regIRQ0             = 0x06 //  Interrupt register 0
	regIRQ1             = 0x07 //  Interrupt register 1
	regIRQ0En           = 0x08 //  Interrupt enable register 0
	regIRQ1En           = 0x09 //  Interrupt enable register 1
	regError            = 0x0A //  Error bits showing the error status of the last command execution
	regStatus           = 0x0B //  Contains status of the communication
	regRxBitCtrl        = 0x0C //  Control register for anticollision adjustments for bit oriented protocols
	regRxColl           = 0x0D //  Collision position register
	regTControl         = 0x0E //  Control of Timer 0..3
	regT0Control        = 0x0F //  Control of Timer0
	regT0ReloadHi       = 0x10 //  High register of the reload value of Timer0
	regT0ReloadLo       = 0x11 //  Low register of the reload value of Timer0
	regT0CounterValHi   = 0x12 //  Counter value high register of Timer0
	regT0CounterValLo   = 0x13 //  Counter value low register of Timer0
	regT1Control        = 0x14 //  Control of Timer1
	regT1ReloadHi       = 0x15 //  High register of the reload value of Timer1
	regT1ReloadLo       = 0x16 //  Low register of the reload value of Timer1
	regT1CounterValHi   = 0x17 //  Counter value high register of Timer1
	regT1CounterValLo   = 0x18 //  Counter value low register of Timer1
	regT2Control        = 0x19 //  Control of Timer2
	regT2ReloadHi       = 0x1A //  High byte of the reload value of Timer2
	regT2ReloadLo       = 0x1B //  Low byte of the reload value of Timer2
	regT2CounterValHi   = 0x1C //  Counter value high byte of Timer2
	regT2CounterValLo   = 0x1D //  Counter value low byte of Timer2
	regT3Control        = 0x1E //  Control of Timer3
	regT3ReloadHi       = 0x1F //  High byte of the reload value of Timer3
	regT3ReloadLo       = 0x20 //  Low byte of the reload value of Timer3
	regT3CounterValHi   = 0x21 //  Counter value high byte of Timer3
	regT3CounterValLo   = 0x22 //  Counter value low byte of Timer3
	regT4Control        = 0x23 //  Control of Timer4
	regT4ReloadHi       = 0x24 //  High byte of the reload value of Timer4
	regT4ReloadLo       = 0x25 //  Low byte of the reload value of Timer4
	regT4CounterValHi   = 0x26 //  Counter value high byte of Timer4
	regT4CounterValLo   = 0x27 //  Counter value low byte of Timer4
	regDrvMode          = 0x28 //  Driver mode register
	regTxAmp            = 0x29 //  Transmitter amplifier register
	regDrvCon           = 0x2A //  Driver configuration register
	regTxl              = 0x2B //  Transmitter register
	regTxCrcPreset      = 0x2C //  Transmitter CRC control register, preset value
	regRxCrcPreset      = 0x2D //  Receiver CRC control register, preset value
	regTxDataNum        = 0x2E //  Transmitter data number register
	regTxModWidth       = 0x2F //  Transmitter modulation width register
	regTxSym10BurstLen  = 0x30 //  Transmitter symbol 1 + symbol 0 burst length register
	regTXWaitCtrl       = 0x31 //  Transmitter wait control
	regTxWaitLo         = 0x32 //  Transmitter wait low
	regFrameCon         = 0x33 //  Transmitter frame control
	regRxSofD           = 0x34 //  Receiver start of frame detection
	regRxCtrl           = 0x35 //  Receiver control register
	regRxWait           = 0x36 //  Receiver wait register
	regRxThreshold      = 0x37 //  Receiver threshold register
	regRcv              = 0x38 //  Receiver register
	regRxAna            = 0x39 //  Receiver analog register
	regLPCD_Options     = 0x3A //  LPCD options (CLRC66303 only)
	regSerialSpeed      = 0x3B //  Serial speed register
	regLFO_Trimm        = 0x3C //  Low-power oscillator trimming register
	regPLL_Ctrl         = 0x3D //  IntegerN PLL control register, for microcontroller clock output adjustment
	regPLL_DivOut       = 0x3E //  IntegerN PLL control register, for microcontroller clock output adjustment
	regLPCD_QMin        = 0x3F //  Low-power card detection Q channel minimum threshold
	regLPCD_QMax        = 0x40 //  Low-power card detection Q channel maximum threshold
	regLPCD_IMin        = 0x41 //  Low-power card detection I channel minimum threshold
	regLPCD_I_Result    = 0x42 //  Low-power card detection I channel result register
	regLPCD_Q_Result    = 0x43 //  Low-power card detection Q channel result register
	regPadEn            = 0x44 //  PIN enable register
	regPadOut           = 0x45 //  PIN out register
	regPadIn            = 0x46 //  PIN in register
	regSigOut           = 0x47 //  Enables and controls the SIGOUT Pin
	regTxBitMod         = 0x48 //  Transmitter bit mode register
	regLPCD_ARef        = 0x49 //  Low-power card detection ADC reference voltage register
	regTxDataCon        = 0x4A //  Transmitter data configuration register
	regTxDataMod        = 0x4B //  Transmitter data modulation register
	regTxSymFreq        = 0x4C //  Transmitter symbol frequency
	regTxSym0H          = 0x4D //  Transmitter symbol 0 high register
	regTxSym0L          = 0x4E //  Transmitter symbol 0 low register
	regTxSym1H          = 0x4F //  Transmitter symbol 1 high register
	regTxSym1L          = 0x50 //  Transmitter symbol 1 low register
	regTxSym2           = 0x51 //  Transmitter symbol 2 register
	regTxSym3           = 0x52 //  Transmitter symbol 3 register
	regTxSym10Len       = 0x53 //  Transmitter symbol 1 + symbol 0 length register
	regTxSym32Len       = 0x54 //  Transmitter symbol 3 + symbol 2 length register
	regTxSym10BurstCtrl = 0x55 //  Transmitter symbol 1 + symbol 0 burst control register
	regTxSym10Mod       = 0x56 //  Transmitter symbol 1 + symbol 0 modulation register
	regTxSym32Mod       = 0x57 //  Transmitter symbol 3 + symbol 2 modulation register
	regRxBitMod         = 0x58 //  Receiver bit modulation register
	regRxEofSym         = 0x59 //  Receiver end of frame symbol register
	regRxSyncValH       = 0x5A //  Receiver synchronisation value high register
	regRxSyncValL       = 0x5B //  Receiver synchronisation value low register
	regRxSyncMod        = 0x5C //  Receiver synchronisation mode register
	regRxMod            = 0x5D //  Receiver modulation register
	regRxCorr           = 0x5E //  Receiver correlation register
	regFabCal           = 0x5F //  Calibration register of the receiver, calibration performed at production
	regVersion          = 0x7F //  Version and subversion register

	// IRQ0 bits.
	irqErr    = 0b1 << 1
	irqRx     = 0b1 << 2
	irqTx     = 0b1 << 3
	irqIdle   = 0b1 << 4
	irqGlobal = 0b1 << 6

	// IRQ1 bits.
	irq1Timer = 0b1 << 0
	irq1LPCD  = 0b1 << 5
	irq1Pin   = 0b1 << 6

	// Error register bits.
	errProtocolErr = 0b1 << 0
	errParityErr   = 0b1 << 1
	errCRCErr      = 0b1 << 2
	errCollDet     = 0b1 << 3
	errBufferOvfl  = 0b1 << 4
	errTemperature = 0b1 << 5
	errWrErr       = 0b1 << 6

	cmdIdle         = 0x00
	cmdLPCD         = 0x01
	cmdReceive      = 0x05
	cmdTransmit     = 0x06
	cmdTransceive   = 0x07
	cmdLoadReg      = 0x0c
	cmdLoadProtocol = 0x0d
	cmdSoftReset    = 0x1f

	drvModeTx2Inv = 0b1 << 7
	drvModeTxEn   = 0b1 << 3

	lpcdFilter = 0b1 << 2
	lpcdTxHigh = 0b1 << 3

	lpcdIRQClr = 0b1 << 6

	txDataNumDataEn = 0b1 << 3

	commandModemOff = 0b1 << 6
)

// Protocol numbers for the LoadProtocol command.
const (
	protocol_ISO14443A_106_MILLER_MANCHESTER = 0
	protocol_ISO15693_26_SSC_26_1_4          = 10
)

// Antenna configuration EEPROM addresses.
const (
	eepromAddrISO14443A_106           = 0xc0
	eepromAddrISO15693_SLI_1_4_SSC_26 = 0x194
)
