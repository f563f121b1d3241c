package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
)

var ErrDecodeFailure = errors.New("error decoding call")
var ErrUnknownCall = errors.New("unknown call index")
var ErrUnknownVersion = errors.New("unknown runtime version")

// DecodeError is returned when a call cannot be resolved. It matches
// ErrDecodeFailure with errors.Is and unwraps to the underlying cause.
type DecodeError struct {
	SpecVersion uint32
	Index       chain.CallIndex
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding call %s at spec version %d: %v", e.Index, e.SpecVersion, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}

// Method describes one runtime call.
type Method struct {
	Index         chain.CallIndex
	Section       string
	Name          string
	Documentation []string
}

func (m *Method) String() string {
	return m.Section + "." + m.Name
}

// Doc joins the documentation lines with a single space. It returns nil when
// the call is undocumented.
func (m *Method) Doc() *string {
	if len(m.Documentation) == 0 {
		return nil
	}
	lines := make([]string, 0, len(m.Documentation))
	for _, l := range m.Documentation {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	doc := strings.Join(lines, " ")
	return &doc
}

// Version is the call table of one runtime spec version.
type Version struct {
	SpecVersion uint32
	byIndex     map[chain.CallIndex]*Method
	byName      map[string]*Method
}

type humanCall struct {
	Index         chain.CallIndex `toml:"index"`
	Section       string          `toml:"section"`
	Method        string          `toml:"method"`
	Documentation []string        `toml:"documentation"`
}

type humanVersion struct {
	SpecVersion uint32      `toml:"spec_version"`
	Calls       []humanCall `toml:"call"`
}

// TomlToVersion parses a call table, e.g.
//
//   spec_version = 1
//
//   [[call]]
//   index = "0x0a03"
//   section = "democracy"
//   method = "vote"
//   documentation = ["Vote in a referendum."]
func TomlToVersion(tomlStr string) (*Version, error) {
	var hv humanVersion
	_, err := toml.Decode(tomlStr, &hv)
	if err != nil {
		return nil, fmt.Errorf("error decoding toml: %v", err)
	}
	return newVersion(hv)
}

func newVersion(hv humanVersion) (*Version, error) {
	v := &Version{
		SpecVersion: hv.SpecVersion,
		byIndex:     make(map[chain.CallIndex]*Method, len(hv.Calls)),
		byName:      make(map[string]*Method, len(hv.Calls)),
	}
	for _, c := range hv.Calls {
		if c.Section == "" || c.Method == "" {
			return nil, fmt.Errorf("call %s is missing a section or method", c.Index)
		}
		m := &Method{
			Index:         c.Index,
			Section:       c.Section,
			Name:          c.Method,
			Documentation: c.Documentation,
		}
		if _, ok := v.byIndex[m.Index]; ok {
			return nil, fmt.Errorf("duplicate call index %s", m.Index)
		}
		v.byIndex[m.Index] = m
		v.byName[m.String()] = m
	}
	return v, nil
}

func (v *Version) Lookup(index chain.CallIndex) (*Method, error) {
	m, ok := v.byIndex[index]
	if !ok {
		return nil, &DecodeError{SpecVersion: v.SpecVersion, Index: index, Err: ErrUnknownCall}
	}
	return m, nil
}

func (v *Version) Find(section, method string) (*Method, error) {
	m, ok := v.byName[section+"."+method]
	if !ok {
		return nil, fmt.Errorf("%s.%s at spec version %d: %w", section, method, v.SpecVersion, ErrUnknownCall)
	}
	return m, nil
}

func (v *Version) Len() int {
	return len(v.byIndex)
}
