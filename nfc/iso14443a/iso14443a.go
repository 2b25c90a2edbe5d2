// Package iso14443a implements the ISO/IEC 14443-3 Type A anticollision
// and selection procedure against a chip-agnostic low-level Reader.
package iso14443a

import (
	"context"
	"errors"
	"fmt"

	"cardlink.dev/nfc/ll"
)

// ErrProtocol signals a response that violates the ISO14443-3 anticollision
// or selection protocol (wrong length, bad BCC, too many cascade levels).
var ErrProtocol = errors.New("iso14443a: protocol error")

// ErrTooManyLevels means a UID needed more than three cascade levels,
// which ISO14443-3 does not define.
var ErrTooManyLevels = fmt.Errorf("iso14443a: %w: too many cascade levels", ErrProtocol)

// isSoft reports whether err should end a search/select_any loop quietly
// (field went empty, or the card stopped answering) rather than being
// surfaced as a hard failure.
func isSoft(err error) bool {
	if errors.Is(err, ErrProtocol) {
		return true
	}
	return ll.IsSoft(err)
}

// retry calls f up to n times, returning the first success or the last error.
func retry[T any](n int, f func() (T, error)) (T, error) {
	var res T
	var err error
	for i := 0; i < n; i++ {
		res, err = f()
		if err == nil {
			return res, nil
		}
	}
	return res, err
}

// Poller drives the anticollision and selection procedure over a reader.
type Poller struct {
	Reader ll.Reader
}

func New(r ll.Reader) *Poller {
	return &Poller{Reader: r}
}

func (p *Poller) transceiveWupA(ctx context.Context) ([2]byte, error) {
	var rx [2]byte
	bits, err := p.Reader.Transceive(ctx, nil, rx[:], ll.WupA())
	if err != nil {
		return rx, fmt.Errorf("iso14443a: wupa: %w", err)
	}
	if bits != 16 {
		return rx, fmt.Errorf("%w: wupa response was %d bits", ErrProtocol, bits)
	}
	return rx, nil
}

func (p *Poller) transceiveReqA(ctx context.Context) ([2]byte, error) {
	var rx [2]byte
	bits, err := p.Reader.Transceive(ctx, nil, rx[:], ll.ReqA())
	if err != nil {
		return rx, fmt.Errorf("iso14443a: reqa: %w", err)
	}
	if bits != 16 {
		return rx, fmt.Errorf("%w: reqa response was %d bits", ErrProtocol, bits)
	}
	return rx, nil
}

// transceiveAnticoll runs one round of bit-level anticollision at cascade
// level cl. uid holds the 4 bytes known/guessed so far for this cascade
// level and is updated in place with whatever the card echoes back. It
// returns the number of UID bits now known (not counting the 2-byte
// command prefix), which is 32 once the whole 4-byte part plus BCC has
// been resolved without collision.
func (p *Poller) transceiveAnticoll(ctx context.Context, cl byte, uid *[4]byte, uidBits int) (int, error) {
	bits := 16 + uidBits

	var tx [6]byte
	tx[0] = 0x93 + cl*2
	tx[1] = byte((bits/8)<<4) | byte(bits%8)
	copy(tx[2:], uid[:])

	var rx [8]byte
	gotBits, err := p.Reader.Transceive(ctx, tx[:(bits+7)/8], rx[:], ll.Anticoll(bits))
	if err != nil {
		return 0, fmt.Errorf("iso14443a: anticoll: %w", err)
	}

	// If the very next bit collided, we learned nothing new: treat it as a
	// protocol error so callers don't spin forever.
	if gotBits == bits {
		return 0, fmt.Errorf("%w: anticoll got zero new bits", ErrProtocol)
	}
	if gotBits < 16 {
		return 0, fmt.Errorf("%w: anticoll collision too early", ErrProtocol)
	}

	newUIDBits := gotBits - 16
	copy(uid[:], rx[2:6])

	if newUIDBits < 32 {
		return newUIDBits, nil
	}

	// A complete 4-byte UID part must come with exactly 40 bits: 32 for the
	// UID plus 8 for the BCC. 32..39 would mean a collision happened in the
	// BCC byte, which can't happen; more than 40 means the card sent extra
	// bits.
	if newUIDBits != 40 {
		return 0, fmt.Errorf("%w: anticoll got %d new bits, want 40", ErrProtocol, newUIDBits)
	}
	bcc := uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
	if bcc != rx[6] {
		return 0, fmt.Errorf("%w: bad BCC", ErrProtocol)
	}
	return 32, nil
}

// selectTimeout1fc is the frame-waiting time used for SELECT and HLTA,
// which only ever exchange a single short response.
const selectTimeout1fc = 13560 // ~1ms at 13.56MHz

func (p *Poller) transceiveSelect(ctx context.Context, cl byte, uid [4]byte) (byte, error) {
	var tx [7]byte
	tx[0] = 0x93 + cl*2
	tx[1] = 0x70
	copy(tx[2:6], uid[:])
	tx[6] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]

	var rx [1]byte
	bits, err := p.Reader.Transceive(ctx, tx[:], rx[:], ll.Standard(selectTimeout1fc))
	if err != nil {
		return 0, fmt.Errorf("iso14443a: select: %w", err)
	}
	if bits != 8 {
		return 0, fmt.Errorf("%w: select response was %d bits", ErrProtocol, bits)
	}
	return rx[0], nil
}

func (p *Poller) transceiveHLTA(ctx context.Context) error {
	tx := [2]byte{0x50, 0x00}
	var rx [1]byte
	_, err := p.Reader.Transceive(ctx, tx[:], rx[:], ll.Standard(selectTimeout1fc))
	if err != nil {
		return fmt.Errorf("iso14443a: hlta: %w", err)
	}
	return nil
}

const (
	cascadeTag = 0x88
	maxRetries = 4
)

// selectLoop runs the per-cascade-level bit collision search followed by
// SELECT, used by both SelectAny and Search. It returns the assembled UID
// and SAK.
func (p *Poller) selectLoop(ctx context.Context) (ll.UID, byte, error) {
	var uid ll.UID
	var sak byte

	for cl := byte(0); cl < 4; cl++ {
		if cl == 3 {
			return nil, 0, ErrTooManyLevels
		}

		var uidPart [4]byte
		uidBits := 0
		for {
			n, err := retry(maxRetries, func() (int, error) {
				return p.transceiveAnticoll(ctx, cl, &uidPart, uidBits)
			})
			if err != nil {
				return nil, 0, err
			}
			uidBits = n
			if uidBits == 32 {
				break
			}
			// A collision was reported at bit uidBits. Most front-end
			// chips resolve a colliding bit as 1 in hardware (the two
			// subcarrier modulations combine to a dominant "1" at the
			// receiver), so we simply trust whatever bit is now in
			// uidPart and move the known-bit count forward by one.
			uidBits++
		}

		s, err := retry(maxRetries, func() (byte, error) {
			return p.transceiveSelect(ctx, cl, uidPart)
		})
		if err != nil {
			return nil, 0, err
		}
		sak = s

		if uidPart[0] == cascadeTag {
			uid = append(uid, uidPart[1:]...)
		} else {
			uid = append(uid, uidPart[:]...)
			break
		}
	}

	return uid, sak, nil
}

// SelectAny wakes up and selects any single card in the field, resolving
// its UID via bit-level anticollision.
func (p *Poller) SelectAny(ctx context.Context) (*Card, error) {
	atqa, err := retry(maxRetries, func() ([2]byte, error) {
		return p.transceiveWupA(ctx)
	})
	if err != nil {
		return nil, err
	}

	uid, sak, err := p.selectLoop(ctx)
	if err != nil {
		return nil, err
	}

	return &Card{
		poller: p,
		card:   ll.Card{UID: uid, ATQA: atqa, SAK: sak},
	}, nil
}

// SelectByID selects a specific, already-known UID (4, 7 or 10 bytes)
// directly, without running anticollision.
func (p *Poller) SelectByID(ctx context.Context, uid ll.UID) (*Card, error) {
	atqa, err := retry(maxRetries, func() ([2]byte, error) {
		return p.transceiveWupA(ctx)
	})
	if err != nil {
		return nil, err
	}

	var cln int
	switch len(uid) {
	case 4:
		cln = 1
	case 7:
		cln = 2
	case 10:
		cln = 3
	default:
		return nil, fmt.Errorf("%w: invalid UID length %d", ErrProtocol, len(uid))
	}

	var sak byte
	for cl := 0; cl < cln; cl++ {
		var uidPart [4]byte
		if cl == cln-1 {
			copy(uidPart[:], uid[cl*3:cl*3+4])
		} else {
			uidPart[0] = cascadeTag
			copy(uidPart[1:], uid[cl*3:cl*3+3])
		}
		s, err := retry(maxRetries, func() (byte, error) {
			return p.transceiveSelect(ctx, byte(cl), uidPart)
		})
		if err != nil {
			return nil, err
		}
		sak = s
	}

	return &Card{
		poller: p,
		card:   ll.Card{UID: append(ll.UID(nil), uid...), ATQA: atqa, SAK: sak},
	}, nil
}

// Search looks for up to max cards in the field and returns their UIDs.
// Connect to one of them with SelectByID. The field is probed with REQA up
// to max*4 times; the search ends early once the field stops answering.
func (p *Poller) Search(ctx context.Context, max int) ([]ll.UID, error) {
	var res []ll.UID

outer:
	for i := 0; i < max*4; i++ {
		_, err := retry(maxRetries, func() ([2]byte, error) {
			return p.transceiveReqA(ctx)
		})
		if err != nil {
			if isSoft(err) {
				break
			}
			return nil, err
		}

		uid, _, err := p.selectLoop(ctx)
		if err != nil {
			if isSoft(err) {
				break
			}
			return nil, err
		}

		_ = p.transceiveHLTA(ctx)

		if !containsUID(res, uid) {
			res = append(res, uid)
			if len(res) >= max {
				break outer
			}
		}
	}

	return res, nil
}

func containsUID(uids []ll.UID, uid ll.UID) bool {
	for _, u := range uids {
		if string(u) == string(uid) {
			return true
		}
	}
	return false
}

// Card is a selected ISO14443-3 card. It exposes a byte-oriented,
// FWT-parameterised transceive so the ISO-DEP layer (nfc/isodep) can run
// RATS/ATS and the block-exchange state machine against it directly.
type Card struct {
	poller *Poller
	card   ll.Card
}

func (c *Card) UID() ll.UID   { return c.card.UID }
func (c *Card) ATQA() [2]byte { return c.card.ATQA }
func (c *Card) SAK() byte     { return c.card.SAK }
func (c *Card) Info() ll.Card { return c.card }

// Transceive exchanges one full, CRC-protected frame with the card, waiting
// up to fwt1fc carrier cycles for a response.
func (c *Card) Transceive(ctx context.Context, tx []byte, rx []byte, fwt1fc int) (int, error) {
	bits, err := c.poller.Reader.Transceive(ctx, tx, rx, ll.Standard(fwt1fc))
	if err != nil {
		return 0, err
	}
	if bits%8 != 0 {
		return 0, fmt.Errorf("%w: card sent a partial last byte", ErrProtocol)
	}
	return bits / 8, nil
}
