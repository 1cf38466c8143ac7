package axi

import "strconv"

// Channel identifies one of the five AXI channels.
type Channel uint8

// The five AXI channels, in the order of chapter A2 of the protocol.
const (
	AW Channel = iota // write request
	W                 // write data
	B                 // write response
	AR                // read request
	R                 // read data

	NumChannels = 5
)

// Channels lists every channel in declaration order.
var Channels = [NumChannels]Channel{AW, W, B, AR, R}

var channelNames = [NumChannels]string{"AW", "W", "B", "AR", "R"}

// Valid returns true if the channel is one of the five AXI channels.
func (c Channel) Valid() bool {
	return c < NumChannels
}

// IsAddress returns true for the address channels AW and AR.
func (c Channel) IsAddress() bool {
	return c == AW || c == AR
}

// IsData returns true for the data channels W and R.
func (c Channel) IsData() bool {
	return c == W || c == R
}

// String returns the protocol name of the channel.
func (c Channel) String() string {
	if !c.Valid() {
		return "XXX(" + strconv.Itoa(int(c)) + ")"
	}

	return channelNames[c]
}
