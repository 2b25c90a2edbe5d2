package st25r3916

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// wakeupPollInterval bounds how long WaitForCard blocks on the IRQ pin
// between ctx cancellation checks.
const wakeupPollInterval = 200 * time.Millisecond

// WaitForCard puts the chip into its low-power wakeup mode (amplitude and
// phase measurement against the baseline established by Configure's
// regWakeupCtrl/regAmplitudeMeasCtrl/regPhaseMeasCtrl setup) and blocks
// until a deviation trips one of the wakeup interrupts, or ctx is done.
// Unlike the CLRC663's polled LPCD, the ST25R3916 wakes the IRQ pin itself,
// so this only needs to arm the wakeup interrupt mask and wait on it.
func (d *Device) WaitForCard(ctx context.Context) error {
	if err := d.command(cmdStopAll); err != nil {
		return fmt.Errorf("st25r3916: wait for card: %w", err)
	}
	if err := d.writeReg(regOpCtrl, 0); err != nil {
		return fmt.Errorf("st25r3916: wait for card: %w", err)
	}
	if err := d.command(cmdGotoSense); err != nil {
		return fmt.Errorf("st25r3916: wait for card: %w", err)
	}
	mask := interrupts{Error: 0b1<<i_wam | 0b1<<i_wph | 0b1<<i_wcap}
	if err := d.resetInterruptMask(mask); err != nil {
		return fmt.Errorf("st25r3916: wait for card: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.irq.WaitForEdge(wakeupPollInterval) {
			continue
		}
		intrs, hwMask, err := d.interruptStatus()
		if err != nil {
			return fmt.Errorf("st25r3916: wait for card: %w", err)
		}
		intrs.Error &= hwMask.Error
		if intrs.Error&(0b1<<i_wam|0b1<<i_wph|0b1<<i_wcap) != 0 {
			return nil
		}
	}
}

// cmdWait issues a direct command and waits for its completion interrupt
// (direct command terminated), used by the one-shot A/D measurement and
// calibration commands below.
func (d *Device) cmdWait(cmd byte) error {
	_, err := d.commandAndWait(cmd, interrupts{Timer: 0b1 << i_dct}, defTimeout)
	return err
}

// measureAmplitude runs a one-shot amplitude A/D conversion. Configure and
// WaitForCard do not call it; the wakeup reference comes from the
// auto-averaging Configure enables in regAmplitudeMeasCtrl.
func (d *Device) measureAmplitude() (byte, error) {
	if err := d.cmdWait(cmdMeasureAmplitude); err != nil {
		return 0, err
	}
	return d.readReg(regADConvOut)
}

// measurePhase runs a one-shot phase A/D conversion, the phase counterpart
// of measureAmplitude.
func (d *Device) measurePhase() (byte, error) {
	if err := d.cmdWait(cmdMeasurePhase); err != nil {
		return 0, err
	}
	return d.readReg(regADConvOut)
}

// measureVdd reads the VDD supply voltage in millivolts. Configure does not
// call it: the power-up sequence does not measure VDD and does not switch
// the regulator or IO levels to 3V3 mode.
func (d *Device) measureVdd() (uint32, error) {
	if err := d.writeReg(regRegulatorCtrl, mpsvVDD); err != nil {
		return 0, err
	}
	if err := d.cmdWait(cmdMeasureSupply); err != nil {
		return 0, err
	}
	raw, err := d.readReg(regADConvOut)
	if err != nil {
		return 0, err
	}
	// The result is in units of 23.4mV.
	return (uint32(raw)*234 + 5) / 10, nil
}

// calibrateCSensor runs the capacitive sensor's automatic calibration and
// returns the resulting reference value. The completion interrupt only
// fires in Ready mode, so this polls the result register directly instead
// of going through cmdWait.
func (d *Device) calibrateCSensor() (byte, error) {
	if err := d.writeReg(regCapSensorCtrl, 0b01<<cs_g); err != nil {
		return 0, err
	}
	if err := d.command(cmdCalibrateCapSensor); err != nil {
		return 0, err
	}
	deadline := d.clock.Now().Add(defTimeout)
	for {
		if d.clock.Now().After(deadline) {
			return 0, errTimeout
		}
		res, err := d.readReg(regCapSensor)
		if err != nil {
			return 0, err
		}
		if res&(0b1<<cs_cal_err) != 0 {
			return 0, errors.New("st25r3916: capacitive sensor calibration failed")
		}
		if res&(0b1<<cs_cal_end) != 0 {
			return res, nil
		}
	}
}
