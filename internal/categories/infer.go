package categories

import "strings"

// nameHints maps tokens commonly found in device names to a category. The
// first matching token of a name wins.
var nameHints = map[string]string{
	"bike":       Bicycle,
	"bicycle":    Bicycle,
	"boat":       Boat,
	"bus":        Bus,
	"coach":      Bus,
	"car":        Car,
	"sedan":      Car,
	"taxi":       Car,
	"crane":      Crane,
	"heli":       Helicopter,
	"helicopter": Helicopter,
	"moto":       Motorcycle,
	"motorcycle": Motorcycle,
	"quad":       Offroad,
	"atv":        Offroad,
	"person":     Person,
	"walker":     Person,
	"pickup":     Pickup,
	"plane":      Plane,
	"aircraft":   Plane,
	"ship":       Ship,
	"vessel":     Ship,
	"tractor":    Tractor,
	"train":      Train,
	"loco":       Train,
	"tram":       Tram,
	"trolleybus": Trolleybus,
	"truck":      Truck,
	"lorry":      Truck,
	"hgv":        Truck,
	"van":        Van,
	"scooter":    Scooter,
	"dog":        Animal,
	"cow":        Animal,
	"horse":      Animal,
}

// InferFromName guesses a category from a free-form device name such as
// "Truck 12" or "van-north". It reports false when no token matches.
func InferFromName(name string) (string, bool) {
	for _, token := range tokenize(strings.ToLower(name)) {
		if c, ok := nameHints[token]; ok {
			return c, true
		}
	}
	return "", false
}

// Resolve picks the icon category of a device: an explicit valid category
// wins, then a guess from the name, then Default.
func Resolve(category, name string) string {
	if c := Normalize(category); IsValid(c) {
		return c
	}
	if c, ok := InferFromName(name); ok {
		return c
	}
	return Default
}

func tokenize(value string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			buf.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
