package frames

import _ "embed"

//go:embed profile.yaml
var defaultProfile []byte

// Default loads the built-in zone player profile. The YAML ships inside the
// binary, so a parse failure here is a build defect and panics.
func Default() *Profile {
	p, err := Load(defaultProfile)
	if err != nil {
		panic("frames: built-in profile invalid: " + err.Error())
	}
	return p
}
