// command scan polls a CLRC663 or ST25R3916 front end wired to a Raspberry
// Pi over I2C, performs ISO14443-3 anticollision, and dumps every card
// found.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"

	"cardlink.dev/driver/clrc663"
	"cardlink.dev/driver/st25r3916"
	"cardlink.dev/nfc/iso14443a"
	"cardlink.dev/nfc/isodep"
	"cardlink.dev/nfc/ll"
)

var (
	chip    = flag.String("chip", "clrc663", "front-end chip: clrc663 or st25r3916")
	i2cBus  = flag.String("i2c", "", "I2C bus name (empty picks the first available)")
	addr    = flag.Int("addr", 0x28, "I2C device address")
	timeout = flag.Duration("timeout", 5*time.Second, "per-poll timeout")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(*i2cBus)
	if err != nil {
		return fmt.Errorf("open i2c: %w", err)
	}
	defer bus.Close()
	dev := &i2c.Dev{Bus: bus, Addr: uint16(*addr)}

	reader, err := openReader(dev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	poller := iso14443a.New(reader)
	uids, err := poller.Search(ctx, 16)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(uids) == 0 {
		log.Println("no cards found")
		return nil
	}
	for _, uid := range uids {
		log.Printf("found card, uid=% x", []byte(uid))
		dumpATS(ctx, poller, uid)
	}
	return nil
}

// dumpATS selects the card again (this time keeping the Card handle) and
// reports its ISO-DEP ATS parameters, if it answers RATS.
func dumpATS(ctx context.Context, poller *iso14443a.Poller, uid ll.UID) {
	card, err := poller.SelectByID(ctx, uid)
	if err != nil {
		log.Printf("  select: %v", err)
		return
	}
	if !card.Info().Complete() {
		log.Printf("  uid=% x atqa=%v sak=%#.2x (cascade incomplete)", []byte(uid), card.ATQA(), card.SAK())
		return
	}
	dep, err := isodep.New(ctx, card)
	if err != nil {
		log.Printf("  not ISO-DEP: %v", err)
		return
	}
	log.Printf("  ISO-DEP: fsc=%d sfgt_1fc=%d fwt_1fc=%d", dep.FSC(), dep.SFGT1fc(), dep.FWT1fc())
}

// openReader wires either chip's Bus/GPIO dependencies, mirroring how
// driver/wshat.Open and lcd.Open pick bcm283x pins for the Pi Zero this
// module targets. GPIO25 carries the CLRC663's reset line; GPIO24 carries
// the ST25R3916's interrupt line.
func openReader(dev *i2c.Dev) (ll.Reader, error) {
	switch *chip {
	case "clrc663":
		d := clrc663.New(clrc663.I2CBus{Dev: dev}, bcm283x.GPIO25)
		if err := d.Configure(); err != nil {
			return nil, fmt.Errorf("configure clrc663: %w", err)
		}
		if err := d.RadioOn(clrc663.ISO14443a); err != nil {
			return nil, fmt.Errorf("radio on: %w", err)
		}
		return d, nil
	case "st25r3916":
		d := st25r3916.New(st25r3916.I2CBus{Dev: dev}, bcm283x.GPIO24)
		if err := d.Configure(); err != nil {
			return nil, fmt.Errorf("configure st25r3916: %w", err)
		}
		if err := d.SetProtocol(st25r3916.ISO14443a); err != nil {
			return nil, fmt.Errorf("set protocol: %w", err)
		}
		if err := d.FieldOn(); err != nil {
			return nil, fmt.Errorf("field on: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown chip %q", *chip)
	}
}
