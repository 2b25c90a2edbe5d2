// Package acr drives an ACR122U-family reader's PN532 command set,
// addressed the way mjolnir/driver.go addresses the engraver: over a
// serial port rather than the device's native USB endpoints, wrapped in
// the same pseudo-CCID/pseudo-APDU envelope the firmware expects.
//
// Because the reader's own PN532 firmware performs ISO14443-3
// anticollision and ATS retrieval internally, this package exposes the
// already-selected card's exchange as an nfc/ll.Reader restricted to
// FrameStandard frames — the ISO14443-3 layers in nfc/iso14443a have no
// part to play here, unlike with driver/clrc663 and driver/st25r3916.
package acr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/tarm/serial"

	"cardlink.dev/nfc/ll"
)

// Device drives the reader's firmware over a serial connection.
type Device struct {
	port io.ReadWriteCloser
}

// Open connects to dev, or — if dev is empty — tries the platform's usual
// serial device names, the way mjolnir.Open does for the engraver.
func Open(dev string) (*Device, error) {
	const baudRate = 115200

	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("acr: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baudRate, ReadTimeout: time.Second}
		s, err := serial.OpenPort(c)
		if err == nil {
			d := &Device{port: s}
			if err := d.init(); err != nil {
				s.Close()
				return nil, err
			}
			return d, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (d *Device) Close() error { return d.port.Close() }

func (d *Device) init() error {
	// Turn on.
	if _, err := d.transfer([]byte{0x62, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00}); err != nil {
		return fmt.Errorf("acr: power on: %w", err)
	}
	// Set PICC operating parameter: disable everything the firmware would
	// otherwise do on our behalf (auto-poll, auto-ATS) beyond what Poll
	// explicitly asks for.
	if _, err := d.transfer([]byte{
		0x6f, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xff, 0x00, 0x51, 0x00, 0x00,
	}); err != nil {
		return fmt.Errorf("acr: set picc params: %w", err)
	}
	if _, err := d.pn532Cmd(0x02, nil); err != nil { // GetFirmwareVersion
		return fmt.Errorf("acr: get firmware version: %w", err)
	}
	if _, err := d.pn532Cmd(0x12, []byte{0x14}); err != nil { // SetParameters: auto-RATS, auto-ATR_RES
		return fmt.Errorf("acr: set parameters: %w", err)
	}
	return nil
}

// Beep sounds the reader's buzzer, useful as a manual smoke test.
func (d *Device) Beep() error {
	_, err := d.transfer([]byte{
		0x6f, 0x09, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xff, 0x00, 0x40, 0xad, 0x04, 0x02, 0x00, 0x01, 0x01,
	})
	return err
}

// Card is a card found and already selected (including RATS/ATS) by
// the reader's own firmware.
type Card struct {
	dev *Device

	UID  []byte
	ATQA [2]byte
	SAK  byte
	ATS  []byte
}

// Poll asks the firmware to list and select any ISO14443-3 card in the
// field, returning its identity once anticollision and ATS retrieval have
// already run inside the reader.
func (d *Device) Poll(ctx context.Context) (*Card, error) {
	res, err := d.pn532Cmd(0x4a, []byte{0x01, 0x00}) // InListPassiveTarget
	if err != nil {
		return nil, fmt.Errorf("acr: poll: %w", err)
	}
	if len(res) < 2 || res[0] != 0x01 {
		return nil, errors.New("acr: no card present")
	}
	if res[1] != 0x01 {
		return nil, fmt.Errorf("acr: unexpected target count %d", res[1])
	}
	if len(res) < 6 {
		return nil, errors.New("acr: short InListPassiveTarget response")
	}
	var atqa [2]byte
	copy(atqa[:], res[2:4])
	sak := res[4]
	uidLen := int(res[5])
	if len(res) < 6+uidLen+1 {
		return nil, errors.New("acr: short InListPassiveTarget response")
	}
	uid := append([]byte(nil), res[6:6+uidLen]...)
	atsLen := int(res[6+uidLen])
	atsStart := 6 + uidLen + 1
	if len(res) < atsStart+atsLen {
		return nil, errors.New("acr: short InListPassiveTarget response")
	}
	ats := append([]byte(nil), res[atsStart:atsStart+atsLen]...)
	return &Card{dev: d, UID: uid, ATQA: atqa, SAK: sak, ATS: ats}, nil
}

// Transceive implements nfc/ll.Reader for the already-selected card,
// forwarding a raw ISO-DEP block to the firmware's InDataExchange command.
func (c *Card) Transceive(ctx context.Context, tx []byte, rx []byte, opts ll.Frame) (int, error) {
	if opts.Kind() != ll.FrameStandard {
		return 0, errors.New("acr: only standard frames can be exchanged after selection")
	}
	data := make([]byte, 1+len(tx))
	data[0] = 0x01 // target number
	copy(data[1:], tx)

	res, err := c.dev.pn532Cmd(0x40, data) // InDataExchange
	if err != nil {
		return 0, err
	}
	if len(res) < 1 {
		return 0, errors.New("acr: short InDataExchange response")
	}
	if res[0] != 0x00 {
		return 0, fmt.Errorf("acr: transceive failed, status=%#.2x", res[0])
	}
	n := copy(rx, res[1:])
	return n * 8, nil
}

// pn532Cmd wraps data in the fake-APDU/CCID envelope the ACR122U firmware
// expects a PN532 command in, and strips the same layers from the
// response.
func (d *Device) pn532Cmd(code byte, data []byte) ([]byte, error) {
	if len(data) > 255 {
		return nil, errors.New("acr: command payload too long")
	}
	buf := make([]byte, 10+5+2+len(data))
	// CCID header.
	buf[0] = 0x6f
	putLE32(buf[1:5], uint32(5+2+len(data)))
	// Fake APDU header.
	buf[10] = 0xff
	buf[14] = byte(2 + len(data))
	// PN532 header.
	buf[15] = 0xd4
	buf[16] = code
	copy(buf[17:], data)

	res, err := d.transfer(buf)
	if err != nil {
		return nil, err
	}

	if len(res) < 10 {
		return nil, fmt.Errorf("acr: short CCID response (%d bytes)", len(res))
	}
	if res[0] != 0x80 {
		return nil, fmt.Errorf("acr: unexpected CCID response %#.2x", res[0])
	}
	if res[8] != 0x81 {
		return nil, fmt.Errorf("acr: CCID error %#.2x", res[8])
	}
	n := getLE32(res[1:5])
	if len(res) < 10+int(n) {
		return nil, fmt.Errorf("acr: CCID response too short: want %d got %d", n, len(res)-10)
	}
	res = res[10 : 10+int(n)]

	if len(res) < 2 {
		return nil, fmt.Errorf("acr: APDU response too short: %d", len(res))
	}
	sw := res[len(res)-2:]
	if sw[0] != 0x90 || sw[1] != 0x00 {
		return nil, fmt.Errorf("acr: APDU response code %#.2x %#.2x", sw[0], sw[1])
	}
	res = res[:len(res)-2]

	if len(res) < 2 {
		return nil, fmt.Errorf("acr: PN532 response too short: %d", len(res))
	}
	if res[0] != 0xd5 {
		return nil, fmt.Errorf("acr: unexpected PN532 response %#.2x", res[0])
	}
	if res[1] != code+1 {
		return nil, fmt.Errorf("acr: unexpected PN532 response code: want %#.2x got %#.2x", code+1, res[1])
	}
	return res[2:], nil
}

// transfer writes a full command and reads back one response, the serial
// counterpart of the original bulk_out/bulk_in exchange.
func (d *Device) transfer(data []byte) ([]byte, error) {
	if _, err := d.port.Write(data); err != nil {
		return nil, fmt.Errorf("acr: write: %w", err)
	}
	buf := make([]byte, 256)
	n, err := io.ReadAtLeast(d.port, buf, 10)
	if err != nil {
		return nil, fmt.Errorf("acr: read: %w", err)
	}
	return buf[:n], nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
