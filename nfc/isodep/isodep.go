// Package isodep implements the ISO/IEC 14443-4 ("ISO-DEP") half-duplex
// block transmission protocol over an already-selected ISO14443-3 card:
// RATS/ATS negotiation, the I/R/S-block state machine, chaining in both
// directions, waiting-time extension, and DESELECT.
package isodep

import (
	"context"
	"errors"
	"fmt"

	"cardlink.dev/nfc/ll"
)

// ATSMaxLen bounds how much of the ATS response we read.
const ATSMaxLen = 32

// fscMax is the largest frame size a card can declare (FSCI=8 -> 256).
const fscMax = 256

// fscMaxWithoutCRC is the scratch buffer size: payload never needs to hold
// the 2 CRC bytes, since the low-level Reader strips/adds them.
const fscMaxWithoutCRC = fscMax - 2

// ratsTimeout1fc is the frame waiting time allowed for the ATS response.
const ratsTimeout1fc = 65536

var (
	ErrProtocol      = errors.New("isodep: protocol error")
	ErrCommunication = errors.New("isodep: communication failure after max retries")
	ErrTxFrameTooBig = errors.New("isodep: tx frame too big for negotiated FSC")
	ErrRxFrameTooBig = errors.New("isodep: rx buffer too small for received frame")
)

// fsDiv2Table maps FSCI (0..8) to half of FSC, so the table fits in a byte.
var fsDiv2Table = [9]int{16 / 2, 24 / 2, 32 / 2, 40 / 2, 48 / 2, 64 / 2, 96 / 2, 128 / 2, 256 / 2}

// Card is the capability isodep needs from the ISO14443-3 layer: a
// byte-oriented, FWT-parameterised full-frame exchange with a selected card.
type Card interface {
	Transceive(ctx context.Context, tx []byte, rx []byte, fwt1fc int) (int, error)
}

// IsoDepA is an ISO-DEP session over a selected Type A card.
type IsoDepA struct {
	card Card

	// fsc is the max frame size we may send to the card, header+CRC included.
	fsc int
	// sfgt1fc is the start-up frame guard time, in units of 1/fc.
	sfgt1fc int
	// fwt1fc is the frame waiting time, in units of 1/fc.
	fwt1fc int
	// blockNum is the block-count toggle bit: 0 or 1.
	blockNum byte
}

// New runs RATS against card and parses the ATS to establish an ISO-DEP
// session.
func New(ctx context.Context, card Card) (*IsoDepA, error) {
	req := [2]byte{0xE0, 0x80}
	res := make([]byte, ATSMaxLen)
	n, err := card.Transceive(ctx, req[:], res, ratsTimeout1fc)
	if err != nil {
		return nil, fmt.Errorf("isodep: rats: %w", err)
	}
	ats := res[:n]

	fsci, sfgi, fwi := 2, 0, 4
	if len(ats) >= 2 {
		t0 := ats[1]
		fsci = int(t0 & 0xF)
		if t0&0x20 != 0 {
			tbIdx := 2
			if t0&0x10 != 0 {
				tbIdx = 3
			}
			if tbIdx < len(ats) {
				tb := ats[tbIdx]
				sfgi = int(tb & 0x0F)
				fwi = int(tb >> 4)
			}
		}
	}

	if fsci >= len(fsDiv2Table) {
		return nil, fmt.Errorf("%w: FSCI %d too high", ErrProtocol, fsci)
	}
	fsc := fsDiv2Table[fsci] * 2

	// SFGT = (256 * 16 / fc) * 2^SFGI, FWT = (256 * 16 / fc) * 2^FWI.
	sfgt1fc := (256 * 16) << sfgi
	fwt1fc := (256 * 16) << fwi

	return &IsoDepA{
		card:    card,
		fsc:     fsc,
		sfgt1fc: sfgt1fc,
		fwt1fc:  fwt1fc,
	}, nil
}

// FSC is the negotiated maximum frame size, header and CRC included.
func (d *IsoDepA) FSC() int { return d.fsc }

// SFGT1fc is the negotiated start-up frame guard time, in units of 1/fc.
func (d *IsoDepA) SFGT1fc() int { return d.sfgt1fc }

// FWT1fc is the negotiated frame waiting time, in units of 1/fc.
func (d *IsoDepA) FWT1fc() int { return d.fwt1fc }

// Deselect sends S(DESELECT) and waits for the card to echo it back.
func (d *IsoDepA) Deselect(ctx context.Context) error {
	tx := [1]byte{0xC2}
	var rx [1]byte
	n, err := d.card.Transceive(ctx, tx[:], rx[:], d.fwt1fc)
	if err != nil {
		return fmt.Errorf("isodep: deselect: %w", err)
	}
	if n != 1 || rx[0] != 0xC2 {
		return ErrProtocol
	}
	return nil
}

type sendMode int

const (
	sendData sendMode = iota
	sendAck
	sendNak
	sendWtx
)

// Transceive sends tx to the card as one or more chained I-blocks and
// writes the full reassembled response into rx, returning the number of
// bytes written. It handles R-ACK/R-NAK retries and S(WTX) waiting-time
// extensions along the way, and retries a failed exchange up to 10 times
// before giving up with ErrCommunication.
func (d *IsoDepA) Transceive(ctx context.Context, tx []byte, rx []byte) (int, error) {
	txBuf := make([]byte, fscMaxWithoutCRC)
	rxBuf := make([]byte, fscMaxWithoutCRC)

	send := sendData
	wtxMul := byte(0)
	maxN := d.fsc - 3
	rxTotal := 0
	rxChaining := false
	retries := 0

	for {
		fwt := d.fwt1fc
		var txLen int
		switch send {
		case sendData:
			n := len(tx)
			if n > maxN {
				n = maxN
			}
			moreBlocks := n != len(tx)
			txBuf[0] = 0x02 | d.blockNum
			if moreBlocks {
				txBuf[0] |= 0x10
			}
			copy(txBuf[1:], tx[:n])
			txLen = 1 + n
		case sendWtx:
			fwt *= int(wtxMul)
			txBuf[0] = 0xF2
			txBuf[1] = wtxMul
			txLen = 2
		case sendAck:
			txBuf[0] = 0xA2 | d.blockNum
			txLen = 1
		case sendNak:
			txBuf[0] = 0xB2 | d.blockNum
			txLen = 1
		}

		rxLen, err := d.card.Transceive(ctx, txBuf[:txLen], rxBuf, fwt)
		if err != nil {
			switch ll.Kind(err) {
			case ll.Timeout, ll.Corruption:
				retries++
				if retries >= 10 {
					return 0, ErrCommunication
				}
				if rxChaining {
					send = sendAck
				} else {
					send = sendNak
				}
				continue
			default:
				return 0, fmt.Errorf("isodep: %w", err)
			}
		}

		if rxLen == 0 {
			return 0, fmt.Errorf("%w: received zero-length frame", ErrProtocol)
		}
		retries = 0

		pcb := rxBuf[0]
		switch {
		case pcb == 0x02 || pcb == 0x03 || pcb == 0x12 || pcb == 0x13:
			// I-block.
			infLen := rxLen - 1
			if infLen > len(rx) {
				return 0, ErrRxFrameTooBig
			}
			copy(rx[:infLen], rxBuf[1:rxLen])
			rx = rx[infLen:]
			rxTotal += infLen
			d.blockNum ^= 1

			if pcb&0x10 == 0 {
				// Last block of chaining (or the only one).
				return rxTotal, nil
			}
			rxChaining = true
			send = sendAck

		case pcb == 0xA2 || pcb == 0xA3:
			// R-ACK.
			if pcb&1 == d.blockNum {
				if len(tx) <= maxN {
					return 0, fmt.Errorf("%w: got ack on last chaining block", ErrProtocol)
				}
				tx = tx[maxN:]
				d.blockNum ^= 1
			}
			send = sendData

		case pcb == 0xF2:
			// S(WTX) request.
			if rxLen != 2 {
				return 0, fmt.Errorf("%w: invalid S(WTX) length %d", ErrProtocol, rxLen)
			}
			wtxMul = rxBuf[1] & 0x3F
			send = sendWtx

		default:
			return 0, fmt.Errorf("%w: unknown PCB 0x%02x", ErrProtocol, pcb)
		}
	}
}
