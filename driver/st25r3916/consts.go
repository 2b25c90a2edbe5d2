package st25r3916

const (
	i2cAddr = 0x50

	txWaterLevel = 200
	rxWaterLevel = 300

	// Modes, see table 11 in the datasheet.
	modeWriteReg = 0b00 << 6
	modeReadReg  = 0b01 << 6
	modeCommand  = 0b11 << 6
	modeFIFO     = 0b10 << 6

	loadFIFO     = 0b000000
	readFIFO     = 0b011111
	loadPTMemory = 0b100000

	// Register addresses, space A. See table 17
	// in the datasheet.
	regIOConf1               = 0x00
	regIOConf2               = 0x01
	regOpCtrl                = 0x02
	regModeDef               = 0x03
	regBitRate               = 0x04
	regISO14443AConf         = 0x05
	regNFCIP1PassiveTarg     = 0x08
	regStreamModeDef         = 0x09
	regAuxDef                = 0x0a
	regRXConf1               = 0x0b
	regRXConf2               = 0x0c
	regRXConf3               = 0x0d
	regRXConf4               = 0x0e
	regMaskRecieveTimer      = 0x0f
	regNoResponseTimer1      = 0x10
	regNoResponseTimer2      = 0x11
	regTimerEMVCtrl          = 0x12
	regMaskMainIntr          = 0x16
	regMaskTimerNFCIntr      = 0x17
	regMaskErrorWakeupIntr   = 0x18
	regMaskPassiveTargIntr   = 0x19
	regMainIntr              = 0x1a
	regTimerNFCIntr          = 0x1b
	regErrorWakeupIntr       = 0x1c
	regPassiveTargIntr       = 0x1d
	regFIFOStatus1           = 0x1e
	regFIFOStatus2           = 0x1f
	regPassiveTarg           = 0x21
	regNumTX1                = 0x22
	regNumTX2                = 0x23
	regADConvOut             = 0x25
	regPassiveTargetMod      = 0x29
	regExtFieldAct           = 0x2a
	regExtFieldDeact         = 0x2b
	regRegulatorCtrl         = 0x2c
	regCapSensorCtrl         = 0x2f
	regCapSensor             = 0x30
	regAuxDisp               = 0x31
	regWakeupCtrl            = 0x32
	regAmplitudeMeasCtrl     = 0x33
	regAmplitudeMeasAutoDisp = 0x35
	regAmplitudeMeasDisp     = 0x36
	regPhaseMeasCtrl         = 0x37
	regPhaseMeasAutoDisp     = 0x39
	regPhaseMeasDisp         = 0x3a
	regCapMeasCtrl           = 0x3b
	regICID                  = 0x3f
	// Register addresses, space B. See table 28.
	spaceB              = 0b1 << 7
	regEMDSupConf       = spaceB | 0x05
	regCorrConf1        = spaceB | 0x0c
	regCorrConf2        = spaceB | 0x0d
	regFieldOnGuardTime = spaceB | 0x15
	regAuxMod           = spaceB | 0x28
	regResAMMod         = spaceB | 0x2a
	regRegulatorDisp    = spaceB | 0x2c
	regOvershootConf1   = spaceB | 0x30
	regOvershootConf2   = spaceB | 0x31
	regUndershootConf1  = spaceB | 0x32
	regUndershootConf2  = spaceB | 0x33

	// Commands, see table table 13.
	// Note that the constant include the command mode prefix 0b11. For example,
	// the set default command is really command 0 (0b11_000000).
	cmdSetDefault         = 0xc0
	cmdStopAll            = 0xc2
	cmdTransmitWithCRC    = 0xc4
	cmdTransmitWithoutCRC = 0xc5
	cmdTransmitREQA       = 0xc6
	cmdTransmitWUPA       = 0xc7
	cmdInitialFieldOn     = 0xc8
	cmdGotoSense          = 0xcd
	cmdGotoSleep          = 0xce
	cmdResetRXGain        = 0xd5
	cmdAdjustRegulator    = 0xd6
	cmdClearFIFO          = 0xdb
	cmdMeasureAmplitude   = 0xd3
	cmdMeasurePhase       = 0xd9
	cmdCalibrateCapSensor = 0xdd
	cmdMeasureCap         = 0xde
	cmdMeasureSupply      = 0xdf
	cmdStartWakeupTimer   = 0xe1
	cmdSpaceBAccess       = 0xfb
	cmdTestAccess         = 0xfc

	// IO configuration register 1 bits.
	lf_clk_off = 0
	out_cl     = 1
	i2c_thd    = 4

	// IO Configuration register 2 bits.
	slow_up    = 0
	io_drv_lvl = 2

	// Mode definition bits, table 22, 23, 24.
	om0         = 3
	om1         = 4
	om2         = 5
	om3         = 6
	omISO14443A = 0b1 << om0
	omISO15693  = 0b1<<om1 | 0b1<<om2 | 0b1<<om3 // Sub-carrier stream mode.
	targ        = 7

	// Stream mode definition bits.
	stx          = 0
	scp          = 3
	scf          = 5
	modeISO15693 = 0b01<<scf | // fc/32
		0b000<<stx | // fc/128
		0b11<<scp // 8 pulses

	// Operation control bits.
	en_fd_c = 1
	wu      = 2
	tx_en   = 3
	rx_en   = 6
	en      = 7

	// Main interrupt bits.
	i_rx_rest = 1
	i_col     = 2
	i_txe     = 3
	i_rxe     = 4
	i_rxs     = 5
	i_wl      = 6
	i_osc     = 7

	// Timer and NFC interrupt bits.
	i_nfct = 0
	i_cat  = 1
	i_cac  = 2
	i_eof  = 3
	i_eon  = 4
	i_gpe  = 5
	i_nre  = 6
	i_dct  = 7

	// Error and wake-up interrupt bits.
	i_wcap = 0
	i_wph  = 1
	i_wam  = 2
	i_wt   = 3
	i_err1 = 4
	i_err2 = 5
	i_par  = 6
	i_crc  = 7

	// Passive target interrupt bits.
	i_wu_a    = 0
	i_wu_a_x  = 1
	i_wu_f    = 3
	i_rxe_pta = 4

	// Regulator control bits.
	reg_s = 7
	mpsv  = 0

	// ISO14443A configuration bits
	antcl     = 0
	no_rx_par = 6
	no_tx_par = 7

	// Auxiliary definition bits.
	dis_corr  = 2
	nfc_id    = 4
	no_crc_rx = 7

	// NFCIP-1 passive target definition bits (table 32).
	d_106_ac_a   = 0
	d_212_424_1r = 2
	d_ac_ap2p    = 3
	fdel         = 4

	// Resistive AM modulation bits.
	md_res = 0
	fa3_f  = 7

	// External field detector activation bits (table 83).
	rfe_t = 0
	trg_l = 4

	// External field detector deactivation bits (table 86).
	rfe_td = 0
	trg_ld = 4

	// EMD suppression configuration bits (table 38).
	rx_start_emv = 6

	// FIFO status 2 bits (table 62): fifo_lb occupies bits 0-2, the number
	// of valid bits in the last received byte (0 means all 8 are valid);
	// np_lb marks that last byte as missing its parity bit entirely.
	fifo_lb_mask = 0b111
	np_lb        = 3
	fifo_ovr     = 4
	fifo_unf     = 5

	// Timer and EMV control bits.
	gptc = 5

	// Wakeup timer control bits.
	wcap = 0
	wph  = 1
	wam  = 2
	wto  = 3
	wut  = 4
	wur  = 7

	// Amplitude measurement configuration bits (table 105).
	am_ae  = 0
	am_aew = 1
	am_aam = 3
	am_d   = 4

	// Phase measurement configuration bits (table 109).
	pm_ae  = 0
	pm_aew = 1
	pm_aam = 3
	pm_d   = 4

	// Capacitance measurement configuration bits (table 113).
	cm_ae  = 0
	cm_aew = 1
	cm_aam = 3
	cm_d   = 4

	// Auxillary display bits (table 98).
	osc_ok = 4

	// iso14443a collision avoidance loop commands.
	casLevel1 = 0x93
	casLevel2 = 0x95
	casLevel3 = 0x97

	// Capacitive sensor result bits (table 117). cs_cal_end marks the
	// calibration command complete; cs_cal_err marks it unresolvable.
	cs_cal_end = 7
	cs_cal_err = 6

	// Capacitive sensor control bits (table 115): cs_mcal occupies bits
	// 0-4 (manual calibration value, 0 selects automatic), cs_g bits 5-6
	// (gain, 0b01 is 6.5V/pF, the highest setting).
	cs_mcal = 0
	cs_g    = 5

	// Regulator control mpsv values (table 72): which supply the next
	// A/D measurement command reads.
	mpsvVDD = 0b101 << mpsv
)
