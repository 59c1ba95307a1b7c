package categories

import "strings"

const (
	Default    = "default"
	Animal     = "animal"
	Bicycle    = "bicycle"
	Boat       = "boat"
	Bus        = "bus"
	Car        = "car"
	Crane      = "crane"
	Helicopter = "helicopter"
	Motorcycle = "motorcycle"
	Offroad    = "offroad"
	Person     = "person"
	Pickup     = "pickup"
	Plane      = "plane"
	Ship       = "ship"
	Tractor    = "tractor"
	Train      = "train"
	Tram       = "tram"
	Trolleybus = "trolleybus"
	Truck      = "truck"
	Van        = "van"
	Scooter    = "scooter"
)

// DefaultIconTemplate locates the overlay glyph of a category under the
// assets root.
const DefaultIconTemplate = "images/icon/{category}.png"

var all = []string{
	Default,
	Animal,
	Bicycle,
	Boat,
	Bus,
	Car,
	Crane,
	Helicopter,
	Motorcycle,
	Offroad,
	Person,
	Pickup,
	Plane,
	Ship,
	Tractor,
	Train,
	Tram,
	Trolleybus,
	Truck,
	Van,
	Scooter,
}

// All returns every known device category. Each one gets a preloaded icon.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

func IsValid(category string) bool {
	category = Normalize(category)
	for _, c := range all {
		if c == category {
			return true
		}
	}
	return false
}

func Normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// OrDefault maps unknown or empty categories to Default.
func OrDefault(category string) string {
	c := Normalize(category)
	if !IsValid(c) {
		return Default
	}
	return c
}

// IconPath expands template for category. An empty template uses
// DefaultIconTemplate.
func IconPath(template, category string) string {
	if template == "" {
		template = DefaultIconTemplate
	}
	return strings.ReplaceAll(template, "{category}", category)
}
