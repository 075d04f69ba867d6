// Package catalog loads the country-code table and location-type descriptors.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

const (
	CountryCodesName  = "country_codes"
	LocationTypesName = "location_types"
)

var extensions = []string{".json", ".yaml", ".yml"}

// Catalog is read-only after construction and safe for concurrent lookups.
type Catalog struct {
	countries map[string]string // code -> display name
	byName    map[string]string // lower(display name) -> code
	types     map[string]*model.LocationType
}

// New builds a catalog from in-memory tables; descriptors are validated.
func New(countries map[string]string, types map[string]*model.LocationType, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Catalog{
		countries: make(map[string]string, len(countries)),
		byName:    make(map[string]string, len(countries)),
		types:     make(map[string]*model.LocationType, len(types)),
	}

	codes := make([]string, 0, len(countries))
	for code := range countries {
		codes = append(codes, code)
	}
	// smallest code wins on duplicate names
	sort.Strings(codes)
	for _, code := range codes {
		name := countries[code]
		c.countries[code] = name
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if prev, ok := c.byName[key]; ok {
			log.Warn("duplicate country name", "name", name, "kept", prev, "ignored", code)
			continue
		}
		c.byName[key] = code
	}

	for key, lt := range types {
		if lt == nil {
			return nil, fmt.Errorf("location type %q: empty descriptor", key)
		}
		cp := *lt
		cp.Key = key
		shape, err := model.ParseOutputShape(string(cp.QueryType))
		if err != nil {
			return nil, fmt.Errorf("location type %q: %w", key, err)
		}
		cp.QueryType = shape
		if err := validateGroups(cp.Tags); err != nil {
			return nil, fmt.Errorf("location type %q: %w", key, err)
		}
		c.types[key] = &cp
	}
	return c, nil
}

func validateGroups(groups []model.TagGroup) error {
	if len(groups) == 0 {
		return errors.New("no tag groups")
	}
	for i, g := range groups {
		if len(g.Conditions) == 0 {
			return fmt.Errorf("tag group %d has no conditions", i)
		}
		for j, cond := range g.Conditions {
			if strings.TrimSpace(cond.Key) == "" {
				return fmt.Errorf("tag group %d condition %d: empty key", i, j)
			}
		}
	}
	return nil
}

// Load reads both tables from dir. A missing file degrades to an empty table;
// an unreadable or malformed one is an error.
func Load(dir string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}

	countries := map[string]string{}
	found, err := readTable(dir, CountryCodesName, &countries)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Warn("country codes file not found, using empty table", "dir", dir)
	}

	types := map[string]*model.LocationType{}
	found, err = readTable(dir, LocationTypesName, &types)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Warn("location types file not found, using empty table", "dir", dir)
	}

	c, err := New(countries, types, log)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", dir, err)
	}
	log.Debug("catalog loaded", "dir", dir, "countries", len(c.countries), "location_types", len(c.types))
	return c, nil
}

func readTable(dir, base string, out any) (bool, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, base+ext)
		data, err := os.ReadFile(filepath.Clean(path))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", path, err)
		}
		if ext == ".json" {
			err = json.Unmarshal(data, out)
		} else {
			err = yaml.Unmarshal(data, out)
		}
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", path, err)
		}
		return true, nil
	}
	return false, nil
}

// CountryCode resolves a display name case-insensitively.
func (c *Catalog) CountryCode(name string) (string, bool) {
	code, ok := c.byName[normalizeName(name)]
	return code, ok
}

func (c *Catalog) LocationType(key string) (*model.LocationType, bool) {
	lt, ok := c.types[key]
	return lt, ok
}

// LocationTypes returns all descriptors sorted by key.
func (c *Catalog) LocationTypes() []*model.LocationType {
	out := make([]*model.LocationType, 0, len(c.types))
	for _, lt := range c.types {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Catalog) CountryCount() int { return len(c.countries) }

func (c *Catalog) LocationTypeCount() int { return len(c.types) }

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
