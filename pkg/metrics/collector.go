package metrics

import (
	"time"

	"github.com/vaultforge/syncd/pkg/hub"
	"github.com/vaultforge/syncd/pkg/storage"
)

// Collector periodically samples the store and hub to keep the gauge
// metrics current between the events that would otherwise update them.
type Collector struct {
	store  storage.Store
	hub    *hub.Hub
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store, h *hub.Hub) *Collector {
	return &Collector{
		store:  store,
		hub:    h,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectVaultMetrics()
	c.collectSiteMetrics()
	HubRooms.Set(float64(c.hub.RoomCount()))
}

func (c *Collector) collectVaultMetrics() {
	vaults, err := c.store.ListAllVaults()
	if err != nil {
		return
	}
	VaultsTotal.Set(float64(len(vaults)))

	var total int64
	for _, vault := range vaults {
		size, err := c.store.GetVaultSize(vault.ID)
		if err != nil {
			continue
		}
		total += size
	}
	StorageBytesTotal.Set(float64(total))
}

func (c *Collector) collectSiteMetrics() {
	sites, err := c.store.ListAllSites()
	if err != nil {
		return
	}
	SitesTotal.Set(float64(len(sites)))
}
