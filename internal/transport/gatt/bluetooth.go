package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Central wraps the platform BLE stack as a Dialer plus a scanner. One
// Central serves every gatt session in the process; the underlying adapter
// is a singleton anyway.
type Central struct {
	adapter     *bluetooth.Adapter
	serviceUUID bluetooth.UUID

	mu    sync.Mutex
	links map[string]*bleLink // canonical MAC -> open link
}

// Advertisement is one sighting of a device during a scan.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

func NewCentral() (*Central, error) {
	svc, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return nil, err
	}
	c := &Central{
		adapter:     bluetooth.DefaultAdapter,
		serviceUUID: svc,
		links:       make(map[string]*bleLink),
	}
	if err := c.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enabling bluetooth adapter: %w", err)
	}
	// Device-level disconnects arrive here, matched back to the open link
	// by address.
	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := canonicalAddr(device.Address.String())
		c.mu.Lock()
		link := c.links[addr]
		delete(c.links, addr)
		c.mu.Unlock()
		if link != nil {
			link.markDisconnected()
		}
	})
	return c, nil
}

// Scan streams advertisements for devices carrying the bear's service UUID
// until ctx is cancelled. No advertisement is delivered after cancellation.
func (c *Central) Scan(ctx context.Context, found func(Advertisement)) error {
	go func() {
		<-ctx.Done()
		c.adapter.StopScan()
	}()
	err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		if !result.AdvertisementPayload.HasServiceUUID(c.serviceUUID) {
			return
		}
		found(Advertisement{
			Address: canonicalAddr(result.Address.String()),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Dial connects to the device and discovers the bear service's
// characteristics.
func (c *Central) Dial(ctx context.Context, address string) (Link, error) {
	mac, err := bluetooth.ParseMAC(canonicalAddr(address))
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", address, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting %s: %w", address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{c.serviceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		if err == nil {
			err = fmt.Errorf("service %s not found", ServiceUUID)
		}
		return nil, err
	}

	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("discovering characteristics: %w", err)
	}

	link := &bleLink{
		device: device,
		chars:  make(map[string]bluetooth.DeviceCharacteristic, len(chars)),
		done:   make(chan struct{}),
	}
	for _, ch := range chars {
		link.chars[strings.ToLower(ch.UUID().String())] = ch
	}

	c.mu.Lock()
	c.links[canonicalAddr(address)] = link
	c.mu.Unlock()
	return link, nil
}

type bleLink struct {
	device bluetooth.Device
	chars  map[string]bluetooth.DeviceCharacteristic

	once sync.Once
	done chan struct{}
}

func (l *bleLink) Characteristic(uuid string) (Characteristic, error) {
	ch, ok := l.chars[strings.ToLower(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not present", uuid)
	}
	return &bleChar{char: ch}, nil
}

func (l *bleLink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *bleLink) markDisconnected() {
	l.once.Do(func() { close(l.done) })
}

func (l *bleLink) Close() error {
	return l.device.Disconnect()
}

type bleChar struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bleChar) Read() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *bleChar) Subscribe(fn func(data []byte)) (Unsubscribe, error) {
	if err := c.char.EnableNotifications(fn); err != nil {
		return nil, err
	}
	return func() error { return c.char.EnableNotifications(nil) }, nil
}

func (c *bleChar) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func canonicalAddr(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
