package clrc663

import (
	"context"
	"fmt"
	"time"
)

// binarySearch finds the smallest value in [min, max) for which f returns
// true, assuming f is monotone (false* then true*). It returns max if f
// never returns true. Used to calibrate the LPCD noise floor the same way
// the reference driver searches its ADC reference and gain tables.
func binarySearch(min, max int, f func(int) bool) int {
	for min < max {
		mid := min + (max-min)/2
		if f(mid) {
			max = mid
		} else {
			min = mid + 1
		}
	}
	return min
}

// lpcdGainLevels are the RxAna receiver gain codes tried during phase 1 of
// LPCD calibration, ordered from lowest to highest gain: the ADC response
// is monotone decreasing in gain, so binary search finds the smallest gain
// that already pulls the no-card baseline below the centre of the ADC
// range.
var lpcdGainLevels = [32]byte{
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F,
}

// lpcdADCRange is the span of an LPCD I/Q measurement and lpcdADCCenter its
// midpoint. Both calibration phases binary search for the smallest setting
// that pulls the reading below the centre.
const (
	lpcdADCRange  = 0x7F
	lpcdADCCenter = 0x40
)

// lpcdThresholdFraction sets how wide the no-card detection band is around
// the calibrated baseline, expressed as a fraction of lpcdADCRange out of
// 256.
const lpcdThresholdFraction = 34

// lpcdReading is one low-power card detection measurement.
type lpcdReading struct {
	I, Q byte
}

func (d *Device) lpcdMeasure() (lpcdReading, error) {
	if err := d.writeRegs(
		regCommand, cmdIdle,
		regFIFOControl, 1<<4,
		regIRQ1, irq1LPCD,
		regCommand, cmdLPCD,
	); err != nil {
		return lpcdReading{}, err
	}
	deadline := d.clock.Now().Add(100 * time.Millisecond)
	for {
		st, err := d.readIRQs()
		if err != nil {
			return lpcdReading{}, err
		}
		if st.irq1&irq1LPCD != 0 {
			break
		}
		if d.clock.Now().After(deadline) {
			return lpcdReading{}, fmt.Errorf("clrc663: lpcd measurement timed out")
		}
	}
	iq := d.scratch[:2]
	if err := d.bus.ReadRegs(regLPCD_I_Result, iq); err != nil {
		return lpcdReading{}, err
	}
	return lpcdReading{I: iq[0] & lpcdADCRange, Q: iq[1] & lpcdADCRange}, nil
}

// calibrateLPCD runs the two-phase calibration from the datasheet's low
// power card detection application note:
//
//  1. binary search the RxAna receiver gain table for the smallest gain
//     whose no-card reading already falls below the centre of the ADC
//     range (the response is monotone decreasing in gain);
//  2. with that gain fixed, binary search the 7-bit ADC reference voltage
//     for the smallest value whose reading falls below centre too.
//
// The resulting baseline anchors a threshold band [baseline-off,
// baseline+off] programmed into the hardware QMin/QMax/IMin registers, so
// WaitForCard's later readings only trip on a genuine field perturbation.
// The caller must ensure no card is in the field.
func (d *Device) calibrateLPCD() error {
	if err := d.writeRegs(
		regCommand, cmdIdle,
		regFIFOControl, 0xB0,
		regT3ReloadHi, 0x00,
		regT3ReloadLo, 0x10,
		regT4ReloadHi, 0x00,
		regT4ReloadLo, 0x05,
		regLPCD_Options, lpcdTxHigh|lpcdFilter,
		regRcv, 0x52, // Rx_ADCmode on for calibration.
		regLPCD_ARef, lpcdADCRange,
	); err != nil {
		return fmt.Errorf("clrc663: lpcd calibration: %w", err)
	}

	gainIdx := binarySearch(0, len(lpcdGainLevels), func(i int) bool {
		if err := d.writeRegs(regRxAna, lpcdGainLevels[i]); err != nil {
			return false
		}
		r, err := d.lpcdMeasure()
		if err != nil {
			return false
		}
		return int(r.I) < lpcdADCCenter
	})
	if gainIdx >= len(lpcdGainLevels) {
		return fmt.Errorf("clrc663: lpcd calibration: gain search found no level below centre")
	}
	if err := d.writeRegs(regRxAna, lpcdGainLevels[gainIdx]); err != nil {
		return fmt.Errorf("clrc663: lpcd calibration: %w", err)
	}

	refIdx := binarySearch(0, 0x80, func(v int) bool {
		if err := d.writeRegs(regLPCD_ARef, byte(v)); err != nil {
			return false
		}
		r, err := d.lpcdMeasure()
		if err != nil {
			return false
		}
		return int(r.I) < lpcdADCCenter
	})
	if refIdx >= 0x80 {
		return fmt.Errorf("clrc663: lpcd calibration: reference search found no value below centre")
	}
	if err := d.writeRegs(regLPCD_ARef, byte(refIdx)); err != nil {
		return fmt.Errorf("clrc663: lpcd calibration: %w", err)
	}

	baseline, err := d.lpcdMeasure()
	if err != nil {
		return fmt.Errorf("clrc663: lpcd calibration: %w", err)
	}
	d.lpcdBaseline = baseline

	off := lpcdADCRange * lpcdThresholdFraction / 256
	d.lpcdOff = off
	// QMin/QMax bound the Q channel on both sides; IMin only bounds the I
	// channel's floor, matching this chip's register layout (there is no
	// I-channel maximum register).
	if err := d.writeRegs(
		regLPCD_QMin, clampSub(baseline.Q, off),
		regLPCD_QMax, clampAdd(baseline.Q, off, lpcdADCRange),
		regLPCD_IMin, clampSub(baseline.I, off),
		regCommand, cmdIdle,
		regRcv, 0x12, // Rx_ADCmode off; back to normal receive mode.
	); err != nil {
		return fmt.Errorf("clrc663: lpcd calibration: %w", err)
	}
	return nil
}

// clampSub computes v-off, floored at 0.
func clampSub(v byte, off int) byte {
	if int(v) <= off {
		return 0
	}
	return v - byte(off)
}

// clampAdd computes v+off, capped at max.
func clampAdd(v byte, off, max int) byte {
	if int(v)+off >= max {
		return byte(max)
	}
	return v + byte(off)
}

// WaitForCard blocks, periodically taking low power card detection
// measurements, until a reading leaves the calibrated threshold band or ctx
// is canceled. If no calibration baseline is stored yet, it first runs
// calibrateLPCD, so no card may be in the field on that first call.
func (d *Device) WaitForCard(ctx context.Context) error {
	if d.lpcdBaseline == (lpcdReading{}) {
		if err := d.calibrateLPCD(); err != nil {
			return err
		}
	}
	if err := d.writeRegs(regRcv, 0x52); err != nil {
		return fmt.Errorf("clrc663: wait for card: %w", err)
	}
	defer d.writeRegs(regRcv, 0x12)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r, err := d.lpcdMeasure()
		if err != nil {
			return fmt.Errorf("clrc663: wait for card: %w", err)
		}
		if abs8(r.I, d.lpcdBaseline.I) > d.lpcdOff || abs8(r.Q, d.lpcdBaseline.Q) > d.lpcdOff {
			return nil
		}
		d.clock.Sleep(20 * time.Millisecond)
	}
}

func abs8(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
