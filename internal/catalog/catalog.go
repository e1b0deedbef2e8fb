// Package catalog fetches and indexes the device's playable content: ordered
// slots, each an ordered list of files. The catalog is fetched once per
// successful connection and goes stale on disconnect; a failed fetch is
// non-fatal because the mirror keeps tracking position, volume and battery
// without resolved items.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"baerlink/internal/httputil"
	"baerlink/internal/models"
)

type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		http:    httputil.NewClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// slotPayload matches GET /api/slots on the device.
type slotPayload struct {
	Path  string `json:"path"`
	Files []struct {
		Path   string `json:"path"`
		Title  string `json:"title"`
		Artist string `json:"artist"`
	} `json:"files"`
}

// Fetch performs the one-shot slots request and builds the catalog.
func (c *Client) Fetch(ctx context.Context) (*Catalog, error) {
	var payload []slotPayload
	if err := c.getJSON(ctx, "/api/slots", &payload); err != nil {
		return nil, fmt.Errorf("fetching slots: %w", err)
	}

	slots := make([]models.Slot, 0, len(payload))
	for slotID, sp := range payload {
		slot := models.Slot{ID: slotID, Path: sp.Path, Items: make([]models.CatalogItem, 0, len(sp.Files))}
		for _, f := range sp.Files {
			title := f.Title
			if title == "" {
				title = strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path))
			}
			slot.Items = append(slot.Items, models.CatalogItem{
				ID:     f.Path,
				Title:  title,
				Artist: f.Artist,
				Path:   f.Path,
				SlotID: slotID,
			})
		}
		slots = append(slots, slot)
	}
	return &Catalog{slots: slots}, nil
}

// Info fetches the device's static metadata (name, timezone, wifi).
func (c *Client) Info(ctx context.Context) (*models.DeviceInfo, error) {
	var info models.DeviceInfo
	if err := c.getJSON(ctx, "/api/info", &info); err != nil {
		return nil, fmt.Errorf("fetching device info: %w", err)
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, p string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("device returned %d", resp.StatusCode)
	}
	body := io.LimitReader(resp.Body, httputil.MaxResponseBody)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Catalog is the client-side directory mapping (slot, index) to display
// metadata. Immutable after construction.
type Catalog struct {
	slots []models.Slot
}

// Empty is what a connection starts with before (or instead of) a fetch.
func Empty() *Catalog {
	return &Catalog{}
}

func (c *Catalog) Slots() []models.Slot {
	return c.slots
}

func (c *Catalog) IsEmpty() bool {
	return len(c.slots) == 0
}

// Resolve returns the item at (slot, index), or ok=false when either index
// is out of range. It never panics on device-reported garbage.
func (c *Catalog) Resolve(slot, index int) (*models.CatalogItem, bool) {
	if slot < 0 || slot >= len(c.slots) {
		return nil, false
	}
	items := c.slots[slot].Items
	if index < 0 || index >= len(items) {
		return nil, false
	}
	return &items[index], true
}
