package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"baerlink/internal/device"
	"baerlink/internal/discovery"
	"baerlink/internal/httputil"
	"baerlink/internal/models"
	"baerlink/internal/registry"
	"baerlink/internal/server"
	"baerlink/internal/store"
	"baerlink/internal/transport/gatt"
	"baerlink/internal/transport/websock"
)

func main() {
	dbPath := envOr("DB_PATH", "./data/baerlink.db")
	listenAddr := envOr("LISTEN_ADDR", ":7280")
	corsOrigin := os.Getenv("CORS_ORIGIN")
	bleDisabled := os.Getenv("DISABLE_BLE") != ""

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	s, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	var central *gatt.Central
	if !bleDisabled {
		central, err = gatt.NewCentral()
		if err != nil {
			log.Printf("ble unavailable, gatt transport disabled: %v", err)
			central = nil
		}
	}

	reg := registry.New(func(dev models.KnownDevice) (*device.Device, error) {
		switch dev.Transport {
		case models.TransportSocket:
			baseURL := dev.Address
			if !strings.HasPrefix(baseURL, "http") {
				baseURL = "http://" + baseURL
			}
			if err := httputil.ValidateDeviceURL(baseURL); err != nil {
				return nil, fmt.Errorf("device %s: %w", dev.ID, err)
			}
			sess := websock.New(dev.ID, baseURL)
			return device.New(dev.ID, sess, device.WithCatalogBase(baseURL)), nil
		case models.TransportGATT:
			if central == nil {
				return nil, fmt.Errorf("ble transport disabled")
			}
			sess := gatt.NewSession(dev.ID, dev.Address, central)
			return device.New(dev.ID, sess), nil
		default:
			return nil, fmt.Errorf("unknown transport %q", dev.Transport)
		}
	})
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ble discovery.BLEScanner
	if central != nil {
		ble = central
	}
	scanner := discovery.New(ble, func(dev models.KnownDevice) {
		if err := s.UpsertDevice(&dev); err != nil {
			log.Printf("recording device %s: %v", dev.ID, err)
		}
	})
	go func() {
		if err := scanner.BrowseMDNS(ctx); err != nil && ctx.Err() == nil {
			log.Printf("mdns discovery stopped: %v", err)
		}
	}()
	if central != nil {
		go func() {
			if err := scanner.ScanBLE(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ble discovery stopped: %v", err)
			}
		}()
	}

	var opts []server.Option
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(s, reg, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("BaerLink listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
