/*Package topology describes the board-level wiring of converter devices:
which backend core a frontend drives, the string properties attached to each
device, and the optional control lines (e.g. a reset GPIO) the board routes
to it.

Topologies load from YAML, in the same spirit as the device lists the lab
servers consume:

	name: dac0
	clock-hz: 2000000000
	properties:
	  dma-names: tx
	backends:
	  - axi-dac0

Control lines are runtime objects and cannot come from the file; the
platform (or a test) attaches them to the node after loading.
*/
package topology

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ErrNoBackendRef is returned when a node declares no backend at the
// requested name or index
var ErrNoBackendRef = errors.New("no backend reference in topology")

// Line is a board-routed control line, e.g. a reset GPIO
type Line interface {
	// Set drives the line active (true) or inactive (false)
	Set(active bool) error
}

// LineFunc adapts a plain function to Line
type LineFunc func(active bool) error

// Set drives the line
func (f LineFunc) Set(active bool) error {
	return f(active)
}

// Node is one device in the topology
type Node struct {
	// Name is the device's identity; backends register under theirs
	Name string `yaml:"name"`

	// ClockHz is the rate of the device's input clock, for platforms that
	// describe the clock inline
	ClockHz uint64 `yaml:"clock-hz"`

	// Properties holds free-form string properties
	Properties map[string]string `yaml:"properties"`

	// Backends lists the topology identities of the backend cores this
	// device drives, in declaration order
	Backends []string `yaml:"backends"`

	lines map[string]Line
}

// Load reads a node from a YAML file
func Load(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	n := &Node{}
	if err := yaml.NewDecoder(f).Decode(n); err != nil {
		return nil, fmt.Errorf("decoding topology %s: %v", path, err)
	}
	return n, nil
}

// Property returns the named string property, or def if absent
func (n *Node) Property(name, def string) string {
	if v, ok := n.Properties[name]; ok {
		return v
	}
	return def
}

// BackendRef resolves the node's backend reference by name.  An empty name
// resolves the first declared backend
func (n *Node) BackendRef(name string) (string, error) {
	if name == "" {
		return n.BackendRefAt(0)
	}
	for _, b := range n.Backends {
		if b == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("%q on node %q: %w", name, n.Name, ErrNoBackendRef)
}

// BackendRefAt resolves the node's backend reference by positional index
func (n *Node) BackendRefAt(i int) (string, error) {
	if i < 0 || i >= len(n.Backends) {
		return "", fmt.Errorf("index %d on node %q: %w", i, n.Name, ErrNoBackendRef)
	}
	return n.Backends[i], nil
}

// AttachLine routes a control line to the node under a name
func (n *Node) AttachLine(name string, l Line) {
	if n.lines == nil {
		n.lines = map[string]Line{}
	}
	n.lines[name] = l
}

// Line returns the named control line if the board routes one
func (n *Node) Line(name string) (Line, bool) {
	l, ok := n.lines[name]
	return l, ok
}
