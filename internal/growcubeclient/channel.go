package growcubeclient

import (
	"fmt"
	"strings"
)

// Channel identifies one of the four outlets/sensors of a Growcube.
type Channel int

// Channels in device order.
const (
	ChannelA Channel = iota
	ChannelB
	ChannelC
	ChannelD
)

// ChannelCount is the number of channels on every Growcube.
const ChannelCount = 4

// Channels lists all channels in index order.
var Channels = [ChannelCount]Channel{ChannelA, ChannelB, ChannelC, ChannelD}

// Valid reports whether c is one of A-D.
func (c Channel) Valid() bool {
	return c >= ChannelA && c <= ChannelD
}

// Index returns the zero-based array index of the channel.
func (c Channel) Index() int {
	return int(c)
}

// Letter returns the upper-case channel label ("A".."D").
func (c Channel) Letter() string {
	if !c.Valid() {
		return "?"
	}
	return string(rune('A' + int(c)))
}

// Suffix returns the lower-case label used in entity keys ("a".."d").
func (c Channel) Suffix() string {
	return strings.ToLower(c.Letter())
}

// String implements fmt.Stringer.
func (c Channel) String() string {
	return c.Letter()
}

// ParseChannel converts a label ("A".."D", case-insensitive) to a Channel.
func ParseChannel(s string) (Channel, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	c := Channel(strings.ToUpper(s)[0] - 'A')
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return c, nil
}

// ChannelFromIndex converts a device channel index (0-3) to a Channel.
func ChannelFromIndex(i int) (Channel, error) {
	c := Channel(i)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: index %d", ErrInvalidChannel, i)
	}
	return c, nil
}
