package xe

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
)

// resolveDeviceName maps a "vendor:device" PCI id pair from uevent to a
// marketing name via the system PCI database. Returns "" when the pair
// is unknown or the database is unavailable.
func resolveDeviceName(pciID string) string {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(pciID)), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	vendorID := normalizePCIID(parts[0])
	deviceID := normalizePCIID(parts[1])
	if vendorID == "" || deviceID == "" {
		return ""
	}

	pciOnce.Do(func() {
		pciDB, _ = pcidb.New()
	})
	if pciDB == nil {
		return ""
	}

	product, ok := pciDB.Products[vendorID+deviceID]
	if !ok || product == nil {
		return ""
	}
	return product.Name
}

func normalizePCIID(raw string) string {
	value := strings.TrimPrefix(raw, "0x")
	if value == "" {
		return ""
	}
	for len(value) < 4 {
		value = "0" + value
	}
	return value
}
