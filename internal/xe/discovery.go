package xe

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/skobkin/drmtop/internal/gpu"
)

const drmClassPath = "class/drm"

// Discover enumerates DRM cards bound to the xe driver. Cards that
// fail to open or identify are skipped with a warning; only a failure
// to enumerate the class directory itself is an error.
func (b *Backend) Discover() ([]*gpu.Device, error) {
	sysRoot, err := os.OpenRoot(b.sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("drm class path missing", "path", filepath.Join(b.sysfsRoot, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var devices []*gpu.Device
	for _, entry := range entries {
		name := entry.Name()
		if !isCardName(name) {
			continue
		}

		cardRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name))
		if err != nil {
			b.logger.Warn("failed to open card", "card", name, "err", err)
			continue
		}
		device, err := b.loadCard(name, cardRoot)
		if closeErr := cardRoot.Close(); closeErr != nil {
			b.logger.Debug("failed to close card root", "card", name, "err", closeErr)
		}
		if err != nil {
			if !errors.Is(err, errNotXe) {
				b.logger.Warn("skipping card", "card", name, "err", err)
			}
			continue
		}
		devices = append(devices, device)
	}

	return devices, nil
}

var errNotXe = errors.New("not an xe device")

func (b *Backend) loadCard(card string, cardRoot *os.Root) (*gpu.Device, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return nil, fmt.Errorf("open device dir: %w", err)
	}
	defer deviceRoot.Close()

	uevent, err := deviceRoot.ReadFile("uevent")
	if err != nil {
		return nil, fmt.Errorf("read uevent: %w", err)
	}
	text := string(uevent)

	if driver := ueventValue(text, "DRIVER"); driver != "xe" {
		return nil, errNotXe
	}
	busID := ueventValue(text, "PCI_SLOT_NAME")
	if busID == "" {
		return nil, errors.New("uevent has no PCI_SLOT_NAME")
	}

	device := gpu.NewDevice(busID, b)
	device.CardNode = card
	device.DRMNodes = append([]string{filepath.Join("/dev/dri", card)}, renderNodes(deviceRoot)...)

	b.cards[busID] = cardIdent{
		card:     card,
		pciID:    ueventValue(text, "PCI_ID"),
		hwmonDir: b.findHwmon(card),
	}

	return device, nil
}

// renderNodes lists the render device nodes belonging to this card.
func renderNodes(deviceRoot *os.Root) []string {
	drmRoot, err := deviceRoot.OpenRoot("drm")
	if err != nil {
		return nil
	}
	defer drmRoot.Close()

	entries, err := fs.ReadDir(drmRoot.FS(), ".")
	if err != nil {
		return nil
	}
	var nodes []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			nodes = append(nodes, filepath.Join("/dev/dri", entry.Name()))
		}
	}
	return nodes
}

func (b *Backend) findHwmon(card string) string {
	hwmonRoot := filepath.Join(b.devicePath(card), "hwmon")
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return filepath.Join(hwmonRoot, entry.Name())
		}
	}
	return ""
}

func isCardName(name string) bool {
	if !strings.HasPrefix(name, "card") || strings.ContainsRune(name, '-') {
		return false
	}
	suffix := name[len("card"):]
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func ueventValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
