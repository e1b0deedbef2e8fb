// Package discovery finds bears on the local network and over BLE and
// records every hit in the known-device store. Both scanners run until their
// context is cancelled; re-advertisements refresh the stored entry rather
// than duplicate it.
package discovery

import (
	"context"
	"fmt"
	"log"

	"github.com/grandcat/zeroconf"

	"baerlink/internal/models"
	"baerlink/internal/transport/gatt"
)

// MDNSService is the service type the player advertises on wifi.
const MDNSService = "_hoerbaer._tcp"

// Found is called for every discovered or re-seen device.
type Found func(models.KnownDevice)

// BLEScanner is the subset of the gatt central that discovery needs.
type BLEScanner interface {
	Scan(ctx context.Context, found func(gatt.Advertisement)) error
}

type Scanner struct {
	ble   BLEScanner
	found Found
}

func New(ble BLEScanner, found Found) *Scanner {
	return &Scanner{ble: ble, found: found}
}

// BrowseMDNS watches the local network for socket-reachable bears. It blocks
// until ctx is cancelled.
func (s *Scanner) BrowseMDNS(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("initializing mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry := <-entries:
				if entry == nil || len(entry.AddrIPv4) == 0 {
					continue
				}
				addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
				log.Printf("discovered bear %s at %s", entry.Instance, addr)
				s.found(models.KnownDevice{
					ID:        entry.Instance,
					Name:      entry.Instance,
					Address:   addr,
					Transport: models.TransportSocket,
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, MDNSService, "local.", entries); err != nil {
		return fmt.Errorf("browsing %s: %w", MDNSService, err)
	}
	<-ctx.Done()
	return nil
}

// ScanBLE watches for bears advertising the player service UUID. The device
// id is the peripheral address; repeated advertisements update the RSSI.
func (s *Scanner) ScanBLE(ctx context.Context) error {
	if s.ble == nil {
		return fmt.Errorf("no ble adapter available")
	}
	return s.ble.Scan(ctx, func(adv gatt.Advertisement) {
		s.found(models.KnownDevice{
			ID:        adv.Address,
			Name:      adv.Name,
			Address:   adv.Address,
			Transport: models.TransportGATT,
			RSSI:      adv.RSSI,
		})
	})
}
