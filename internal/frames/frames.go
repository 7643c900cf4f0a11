// Package frames describes how named device parameters map onto SOAP packet
// fields. A Profile is loaded from YAML once at startup and shared read-only
// by every peer.
package frames

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/hgdev/sonos-bridge/internal/params"
)

// ChannelWildcard matches every channel a peer has.
const ChannelWildcard = -1

// Channel is a request channel number or the wildcard "*".
type Channel int

// UnmarshalYAML accepts an integer channel or the literal "*".
func (c *Channel) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "*" {
		*c = ChannelWildcard
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("channel %q: %w", node.Value, err)
	}
	if n < 0 {
		return fmt.Errorf("channel %d out of range", n)
	}
	*c = Channel(n)
	return nil
}

// Field binds one packet value to a parameter. Subkey, when set, selects an
// entry from the packet's metadata map (or a browse result's parent ID) for
// the named key instead of the flat value table.
type Field struct {
	Key       string `yaml:"key"`
	Subkey    string `yaml:"subkey"`
	Parameter string `yaml:"parameter"`
}

// Frame is one inbound packet shape the sync engine knows how to consume.
type Frame struct {
	ID       string  `yaml:"id"`
	Function string  `yaml:"function"`
	Channel  Channel `yaml:"channel"`
	Fields   []Field `yaml:"fields"`
}

// ParameterDef declares one parameter of the device profile.
type ParameterDef struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Writable bool   `yaml:"writable"`
}

// Codec returns the value codec for this parameter's declared type.
func (p ParameterDef) Codec() params.Codec {
	return params.Codec{Type: params.ParseType(p.Type)}
}

// CommandArg is one argument of an outbound command frame. Exactly one of
// Const and Value applies: a fixed string, or the value being written.
type CommandArg struct {
	Key   string `yaml:"key"`
	Const string `yaml:"const"`
	Value bool   `yaml:"value"`
}

// Command maps a writable parameter to the SOAP action that sets it.
type Command struct {
	Parameter string       `yaml:"parameter"`
	Function  string       `yaml:"function"`
	Args      []CommandArg `yaml:"args"`
}

// Get maps a parameter to the SOAP action whose response carries it.
type Get struct {
	Parameter string `yaml:"parameter"`
	Function  string `yaml:"function"`
}

// Profile is a full device description.
type Profile struct {
	Channels   []int          `yaml:"channels"`
	Parameters []ParameterDef `yaml:"parameters"`
	Frames     []Frame        `yaml:"frames"`
	Commands   []Command      `yaml:"commands"`
	Gets       []Get          `yaml:"gets"`

	byFunction map[string][]*Frame
	byParam    map[string]*ParameterDef
	cmdByParam map[string]*Command
	getByParam map[string]*Get
}

// Load parses a profile from YAML and builds its lookup indexes.
func Load(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("profile declares no channels")
	}
	p.byFunction = make(map[string][]*Frame)
	for i := range p.Frames {
		f := &p.Frames[i]
		p.byFunction[f.Function] = append(p.byFunction[f.Function], f)
	}
	p.byParam = make(map[string]*ParameterDef, len(p.Parameters))
	for i := range p.Parameters {
		def := &p.Parameters[i]
		if _, dup := p.byParam[def.ID]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", def.ID)
		}
		p.byParam[def.ID] = def
	}
	p.cmdByParam = make(map[string]*Command, len(p.Commands))
	for i := range p.Commands {
		cmd := &p.Commands[i]
		if _, ok := p.byParam[cmd.Parameter]; !ok {
			return nil, fmt.Errorf("command for unknown parameter %q", cmd.Parameter)
		}
		p.cmdByParam[cmd.Parameter] = cmd
	}
	p.getByParam = make(map[string]*Get, len(p.Gets))
	for i := range p.Gets {
		g := &p.Gets[i]
		p.getByParam[g.Parameter] = g
	}
	for _, f := range p.Frames {
		for _, fld := range f.Fields {
			if _, ok := p.byParam[fld.Parameter]; !ok {
				return nil, fmt.Errorf("frame %s references unknown parameter %q", f.ID, fld.Parameter)
			}
		}
	}
	return &p, nil
}

// FramesFor returns the frames registered for a packet function name.
func (p *Profile) FramesFor(function string) []*Frame {
	return p.byFunction[function]
}

// Parameter looks up a parameter definition by ID.
func (p *Profile) Parameter(id string) (*ParameterDef, bool) {
	def, ok := p.byParam[id]
	return def, ok
}

// CommandFor returns the outbound command that writes a parameter.
func (p *Profile) CommandFor(param string) (*Command, bool) {
	cmd, ok := p.cmdByParam[param]
	return cmd, ok
}

// GetFor returns the action that reads a parameter back from the device.
func (p *Profile) GetFor(param string) (*Get, bool) {
	g, ok := p.getByParam[param]
	return g, ok
}

// MatchesChannel reports whether the frame applies to the given channel.
func (f *Frame) MatchesChannel(channel int) bool {
	return f.Channel == ChannelWildcard || int(f.Channel) == channel
}
