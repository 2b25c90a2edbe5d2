package isodep

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"cardlink.dev/nfc/ll"
)

// mockStep is one expected exchange: tx must equal wantTx, and the mock
// either returns wantRx or fails with err.
type mockStep struct {
	wantTx string
	wantRx string
	err    error
}

type timeoutErr struct{}

func (timeoutErr) Error() string      { return "mock: timeout" }
func (timeoutErr) Kind() ll.ErrorKind { return ll.Timeout }

var errTimeout = timeoutErr{}

// mockCard replays a fixed script of expected tx frames and canned
// responses, panicking (via t.Fatalf) on any mismatch, mirroring the Rust
// MockReader test harness this suite is ported from.
type mockCard struct {
	t     *testing.T
	steps []mockStep
	pos   int
}

func newMock(t *testing.T, steps ...mockStep) *mockCard {
	return &mockCard{t: t, steps: steps}
}

func (m *mockCard) Transceive(ctx context.Context, tx []byte, rx []byte, fwt1fc int) (int, error) {
	m.t.Helper()
	if m.pos >= len(m.steps) {
		m.t.Fatalf("unexpected transceive: tx=% x", tx)
	}
	step := m.steps[m.pos]
	m.pos++

	wantTx, err := decodeHex(step.wantTx)
	if err != nil {
		m.t.Fatalf("bad test fixture tx %q: %v", step.wantTx, err)
	}
	if !bytes.Equal(tx, wantTx) {
		m.t.Fatalf("unexpected tx\n  want: % x\n   got: % x", wantTx, tx)
	}
	if step.err != nil {
		return 0, step.err
	}
	wantRx, err := decodeHex(step.wantRx)
	if err != nil {
		m.t.Fatalf("bad test fixture rx %q: %v", step.wantRx, err)
	}
	n := copy(rx, wantRx)
	return n, nil
}

// decodeHex decodes a fixture written as space-separated hex bytes.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := decodeHex(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func trx(t *testing.T, d *IsoDepA, tx, wantRx string) {
	t.Helper()
	buf := make([]byte, 256)
	n, err := d.Transceive(context.Background(), mustHex(t, tx), buf)
	if err != nil {
		t.Fatalf("transceive(%s): unexpected error: %v", tx, err)
	}
	got := buf[:n]
	want := mustHex(t, wantRx)
	if !bytes.Equal(got, want) {
		t.Fatalf("transceive(%s): got % x, want % x", tx, got, want)
	}
}

func TestInit(t *testing.T) {
	cases := []struct {
		name            string
		ats             string
		fsc             int
		sfgt1fc, fwt1fc int
	}{
		{"nothing present", "01", 32, 256 * 16, 256 * 16 * 16},
		{"T0 present, nothing else", "02 05", 64, 256 * 16, 256 * 16 * 16},
		{"TA absent, TB present", "05 67 81 02 80", 128, 8192, 1048576},
		{"TA present, TB present", "06 77 77 81 02 80", 128, 8192, 1048576},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := newMock(t, mockStep{wantTx: "e0 80", wantRx: c.ats})
			d, err := New(context.Background(), m)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if d.fsc != c.fsc {
				t.Errorf("fsc = %d, want %d", d.fsc, c.fsc)
			}
			if d.sfgt1fc != c.sfgt1fc {
				t.Errorf("sfgt1fc = %d, want %d", d.sfgt1fc, c.sfgt1fc)
			}
			if d.fwt1fc != c.fwt1fc {
				t.Errorf("fwt1fc = %d, want %d", d.fwt1fc, c.fwt1fc)
			}
		})
	}
}

// B.2.1 Exchange of I-blocks, scenario 1.
func TestExchangeIBlocks(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 12 34", wantRx: "02 56 78"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "12 34", "56 78")
	trx(t, d, "aa bb", "cc dd")
}

// B.2.2 Request for waiting time extension, scenario 2.
func TestRequestWTX(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 12 34", wantRx: "f2 c1"},
		mockStep{wantTx: "f2 01", wantRx: "f2 c1"},
		mockStep{wantTx: "f2 01", wantRx: "02 56 78"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "12 34", "56 78")
	trx(t, d, "aa bb", "cc dd")
}

// B.2.4 Chaining, scenario 4: PCD uses chaining.
func TestPCDChaining(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "12 00 11 22 33 44 55 66", wantRx: "a2"},
		mockStep{wantTx: "13 77 88 99 aa bb cc dd", wantRx: "a3"},
		mockStep{wantTx: "02 ee ff", wantRx: "02 cc dd"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff", "cc dd")
	trx(t, d, "aa bb", "cc dd")
}

// B.2.4 Chaining, scenario 5: PICC uses chaining.
func TestPICCChaining(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 12 34", wantRx: "12 00 11 22 33 44 55 66"},
		mockStep{wantTx: "a3", wantRx: "13 77 88 99 aa bb cc dd"},
		mockStep{wantTx: "a2", wantRx: "02 ee ff"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "12 34", "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff")
	trx(t, d, "aa bb", "cc dd")
}

// B.3.1 Exchange of I-blocks, scenario 6: timeout at start of protocol
// recovers via NAK.
func TestErrorIBlockStart(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 11 22", err: errTimeout},
		mockStep{wantTx: "b2", wantRx: "a3"},
		mockStep{wantTx: "02 11 22", wantRx: "02 33 44"},
		mockStep{wantTx: "03 55 66", wantRx: "03 77 88"},
		mockStep{wantTx: "02 99 aa", wantRx: "02 bb cc"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "11 22", "33 44")
	trx(t, d, "55 66", "77 88")
	trx(t, d, "99 aa", "bb cc")
}

// B.3.1, scenario 7: timeout mid-exchange recovers via NAK.
func TestErrorIBlock(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 11 22", wantRx: "02 33 44"},
		mockStep{wantTx: "03 55 66", err: errTimeout},
		mockStep{wantTx: "b3", wantRx: "a2"},
		mockStep{wantTx: "03 55 66", wantRx: "03 77 88"},
		mockStep{wantTx: "02 99 aa", wantRx: "02 bb cc"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "11 22", "33 44")
	trx(t, d, "55 66", "77 88")
	trx(t, d, "99 aa", "bb cc")
}

// B.3.1, scenario 8: NAK resent after timeout gets an I-block directly.
func TestErrorIBlock2(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 11 22", err: errTimeout},
		mockStep{wantTx: "b2", wantRx: "02 33 44"},
		mockStep{wantTx: "03 55 66", wantRx: "03 77 88"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "11 22", "33 44")
	trx(t, d, "55 66", "77 88")
}

// B.3.1, scenario 9: double timeout before NAK succeeds.
func TestErrorIBlock3(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 11 22", err: errTimeout},
		mockStep{wantTx: "b2", err: errTimeout},
		mockStep{wantTx: "b2", wantRx: "02 33 44"},
		mockStep{wantTx: "03 55 66", wantRx: "03 77 88"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	trx(t, d, "11 22", "33 44")
	trx(t, d, "55 66", "77 88")
}

// B.3.2 Request for waiting time extension, scenarios 10-14.
func TestErrorWTX(t *testing.T) {
	cases := []struct {
		name  string
		steps []mockStep
	}{
		{"10", []mockStep{
			{wantTx: "02 11 22", err: errTimeout},
			{wantTx: "b2", wantRx: "f2 c1"},
			{wantTx: "f2 01", wantRx: "02 33 44"},
		}},
		{"11", []mockStep{
			{wantTx: "02 11 22", err: errTimeout},
			{wantTx: "b2", err: errTimeout},
			{wantTx: "b2", wantRx: "f2 c1"},
			{wantTx: "f2 01", wantRx: "02 33 44"},
		}},
		{"12", []mockStep{
			{wantTx: "02 11 22", wantRx: "f2 c1"},
			{wantTx: "f2 01", err: errTimeout},
			{wantTx: "b2", wantRx: "f2 c1"},
			{wantTx: "f2 01", wantRx: "02 33 44"},
		}},
		{"13", []mockStep{
			{wantTx: "02 11 22", wantRx: "f2 c1"},
			{wantTx: "f2 01", err: errTimeout},
			{wantTx: "b2", wantRx: "02 33 44"},
		}},
		{"14", []mockStep{
			{wantTx: "02 11 22", wantRx: "f2 c1"},
			{wantTx: "f2 01", err: errTimeout},
			{wantTx: "b2", err: errTimeout},
			{wantTx: "b2", wantRx: "02 33 44"},
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			steps := append([]mockStep{{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"}}, c.steps...)
			steps = append(steps, mockStep{wantTx: "03 55 66", wantRx: "03 77 88"})
			m := newMock(t, steps...)
			d, err := New(context.Background(), m)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			trx(t, d, "11 22", "33 44")
			trx(t, d, "55 66", "77 88")
		})
	}
}

// B.3.4 Chaining, scenario 16: timeout during PCD chaining recovers via NAK.
func TestErrorPCDChaining1(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "12 00 11 22 33 44 55 66", err: errTimeout},
		mockStep{wantTx: "b2", wantRx: "a2"},
		mockStep{wantTx: "13 77 88 99 aa bb cc dd", wantRx: "a3"},
		mockStep{wantTx: "02 ee ff", wantRx: "02 cc dd"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff", "cc dd")
	trx(t, d, "aa bb", "cc dd")
}

// Scenario 17: timeout on the second chained block recovers via NAK.
func TestErrorPCDChaining2(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "12 00 11 22 33 44 55 66", wantRx: "a2"},
		mockStep{wantTx: "13 77 88 99 aa bb cc dd", err: errTimeout},
		mockStep{wantTx: "b3", wantRx: "a2"},
		mockStep{wantTx: "13 77 88 99 aa bb cc dd", wantRx: "a3"},
		mockStep{wantTx: "02 ee ff", wantRx: "02 cc dd"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff", "cc dd")
	trx(t, d, "aa bb", "cc dd")
}

// Scenario 18: double timeout during PCD chaining.
func TestErrorPCDChaining3(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "12 00 11 22 33 44 55 66", err: errTimeout},
		mockStep{wantTx: "b2", err: errTimeout},
		mockStep{wantTx: "b2", wantRx: "a2"},
		mockStep{wantTx: "13 77 88 99 aa bb cc dd", wantRx: "a3"},
		mockStep{wantTx: "02 ee ff", wantRx: "02 cc dd"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff", "cc dd")
	trx(t, d, "aa bb", "cc dd")
}

// Scenarios 19-20: timeout during PICC chaining recovers by resending the ACK.
func TestErrorPICCChaining1(t *testing.T) {
	m := newMock(t,
		mockStep{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		mockStep{wantTx: "02 12 34", wantRx: "12 00 11 22 33 44 55 66"},
		mockStep{wantTx: "a3", err: errTimeout},
		mockStep{wantTx: "a3", wantRx: "13 77 88 99 aa bb cc dd"},
		mockStep{wantTx: "a2", wantRx: "02 ee ff"},
		mockStep{wantTx: "03 aa bb", wantRx: "03 cc dd"},
	)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	trx(t, d, "12 34", "00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff")
	trx(t, d, "aa bb", "cc dd")
}

// Ten consecutive timeouts exhaust the retry budget.
func TestErrorRetriesExhausted(t *testing.T) {
	steps := []mockStep{
		{wantTx: "e0 80", wantRx: "06 77 77 81 02 80"},
		{wantTx: "02 12 34", err: errTimeout},
	}
	for i := 0; i < 9; i++ {
		steps = append(steps, mockStep{wantTx: "b2", err: errTimeout})
	}
	m := newMock(t, steps...)
	d, err := New(context.Background(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.fsc = 10
	buf := make([]byte, 256)
	_, err = d.Transceive(context.Background(), mustHex(t, "12 34"), buf)
	if err != ErrCommunication {
		t.Fatalf("got error %v, want ErrCommunication", err)
	}
}
