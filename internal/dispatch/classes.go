// ABOUTME: Class allow-list and class-change command parsing
// ABOUTME: Every endpoint accepting a class ID validates it against Classes

package dispatch

import (
	"slices"
	"strings"
)

// ClassChangeVerb prefixes commands that move an agent to another class.
const ClassChangeVerb = "set-class"

// Classes is an immutable allow-list of class identifiers.
type Classes struct {
	ids []string
	set map[string]struct{}
}

// NewClasses builds an allow-list preserving the given order.
func NewClasses(ids []string) *Classes {
	c := &Classes{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := c.set[id]; dup {
			continue
		}
		c.set[id] = struct{}{}
		c.ids = append(c.ids, id)
	}
	return c
}

// Contains reports whether id is allowed.
func (c *Classes) Contains(id string) bool {
	_, ok := c.set[id]
	return ok
}

// List returns the allowed IDs in configured order.
func (c *Classes) List() []string {
	return slices.Clone(c.ids)
}

// String joins the IDs for error messages.
func (c *Classes) String() string {
	return strings.Join(c.ids, ", ")
}

// ParseClassChange reports whether cmd is "set-class <class>" and returns the
// new class.
func ParseClassChange(cmd string) (string, bool) {
	fields := strings.Fields(cmd)
	if len(fields) != 2 || fields[0] != ClassChangeVerb {
		return "", false
	}
	return fields[1], true
}
