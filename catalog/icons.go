package catalog

import (
	"os"
	"path/filepath"
	"strings"
)

// Icons maps a lowercase race type to an image file in a directory.
type Icons map[string]string

// LoadIcons indexes every regular file in dir by its lowercase base name
// without extension. A missing directory yields an empty map.
func LoadIcons(dir string) (Icons, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return Icons{}, nil
	}
	if err != nil {
		return nil, err
	}
	icons := make(Icons)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if name == "" {
			continue
		}
		icons[strings.ToLower(name)] = filepath.Join(dir, entry.Name())
	}
	return icons, nil
}

// For returns the icon path for a race type, or "".
func (i Icons) For(raceType string) string {
	return i[strings.ToLower(raceType)]
}
