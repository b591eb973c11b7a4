package capabilities

import "strings"

// Profile names.
const (
	ProfileSafe       = "safe"
	ProfileStandard   = "standard"
	ProfilePermissive = "permissive"
)

// Profile bundles a fallback mode with the capabilities allowed and denied by
// default.
type Profile struct {
	Name        string
	Mode        Mode
	DefaultCaps Set
	DenyCaps    Set
}

func (p Profile) clone() Profile {
	return Profile{
		Name:        p.Name,
		Mode:        p.Mode,
		DefaultCaps: p.DefaultCaps.Clone(),
		DenyCaps:    p.DenyCaps.Clone(),
	}
}

func baseDefaultCaps() Set {
	return Set{Read, Write, HTTP, Events, Session, Log}
}

// SafeProfile denies everything outside the default allow-list.
func SafeProfile() Profile {
	return Profile{Name: ProfileSafe, Mode: ModeStrict, DefaultCaps: baseDefaultCaps(), DenyCaps: Set{Exec, Env}}
}

// StandardProfile prompts for anything outside the default allow-list.
func StandardProfile() Profile {
	return Profile{Name: ProfileStandard, Mode: ModePrompt, DefaultCaps: baseDefaultCaps(), DenyCaps: Set{Exec, Env}}
}

// PermissiveProfile allows everything not explicitly denied.
func PermissiveProfile() Profile {
	return Profile{Name: ProfilePermissive, Mode: ModePermissive, DefaultCaps: baseDefaultCaps()}
}

// ProfileByName looks up a built-in profile. Names are case-insensitive and
// "strict" is an alias for safe.
func ProfileByName(name string) (Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProfileSafe, "strict":
		return SafeProfile(), true
	case ProfileStandard, "":
		return StandardProfile(), true
	case ProfilePermissive:
		return PermissiveProfile(), true
	default:
		return Profile{}, false
	}
}

// Settings is the operator-facing policy configuration.
type Settings struct {
	Profile        string
	AllowDangerous bool
	// DefaultCaps and DenyCaps replace the profile lists when non-nil.
	DefaultCaps  []string
	DenyCaps     []string
	PerExtension map[string]ExtensionSettings
}

// ExtensionSettings is the raw per-extension override entry.
type ExtensionSettings struct {
	Mode  string
	Allow []string
	Deny  []string
}

// Build resolves settings into a policy snapshot. Unknown profile names
// fall back to standard; the returned warnings describe every fallback taken.
func Build(s Settings) (*Policy, []string) {
	var warnings []string

	profile, ok := ProfileByName(s.Profile)
	if !ok {
		warnings = append(warnings, "unknown profile "+s.Profile+", using "+ProfileStandard)
		profile = StandardProfile()
	}
	if s.DefaultCaps != nil {
		profile.DefaultCaps = NewSet(s.DefaultCaps...)
	}

	denyCaps := profile.DenyCaps.Clone()
	if s.DenyCaps != nil {
		denyCaps = NewSet(s.DenyCaps...)
	}
	if s.AllowDangerous {
		for _, d := range Dangerous {
			denyCaps.Remove(d)
		}
	}
	if denyCaps == nil {
		denyCaps = Set{}
	}

	overrides := make(map[string]Overrides, len(s.PerExtension))
	for id, raw := range s.PerExtension {
		ov := Overrides{Allow: NewSet(raw.Allow...), Deny: NewSet(raw.Deny...)}
		if raw.Mode != "" {
			mode, err := ParseMode(raw.Mode)
			if err != nil {
				warnings = append(warnings, "extension "+id+": "+err.Error())
			} else {
				ov.Mode = mode
			}
		}
		overrides[id] = ov
	}

	return NewPolicy(profile, denyCaps, overrides), warnings
}
