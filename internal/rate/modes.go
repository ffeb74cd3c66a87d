package rate

import "strings"

// DefaultModes is used whenever the requested modes are blank, "ALL", a
// select-box placeholder or entirely unrecognized.
var DefaultModes = []Mode{ModeLTL, ModeGuaranteed, ModeVolume}

var modeAliases = map[string]Mode{
	"ltl":                 ModeLTL,
	"less than truckload": ModeLTL,
	"ltl freight":         ModeLTL,
	"guaranteed":          ModeGuaranteed,
	"gtd":                 ModeGuaranteed,
	"guaranteed ltl":      ModeGuaranteed,
	"gltl":                ModeGuaranteed,
	"sp":                  ModeSmallPackage,
	"small package":       ModeSmallPackage,
	"smallpack":           ModeSmallPackage,
	"parcel":              ModeSmallPackage,
	"volume":              ModeVolume,
	"vol":                 ModeVolume,
	"volume ltl":          ModeVolume,
	"vltl":                ModeVolume,
	"air":                 ModeAir,
	"air freight":         ModeAir,
	"expedited air":       ModeAir,
}

var modeLabels = map[Mode]string{
	ModeLTL:          "LTL",
	ModeGuaranteed:   "Guaranteed LTL",
	ModeSmallPackage: "Small Package",
	ModeVolume:       "Volume LTL",
	ModeAir:          "Air",
}

// Label is the human-readable mode name.
func (m Mode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return string(m)
}

// NormalizeModes collapses the requested mode strings into a canonical,
// de-duplicated set. It never fails: anything it cannot use falls back to
// DefaultModes.
func NormalizeModes(requested []string) []Mode {
	seen := make(map[Mode]bool, len(requested))
	out := make([]Mode, 0, len(requested))
	for _, raw := range requested {
		key := modeKey(raw)
		if key == "all" {
			return defaultModes()
		}
		m, ok := modeAliases[key]
		if !ok || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return defaultModes()
	}
	return out
}

func defaultModes() []Mode {
	return append([]Mode(nil), DefaultModes...)
}

func modeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
