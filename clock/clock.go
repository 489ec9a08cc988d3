// Package clock converts wall-clock time to beacon chain slots.
//
// Every node must agree on slot boundaries to coordinate block proposals
// and attestations.
package clock

import (
	"time"

	"github.com/geanlabs/beaconchain/types"
)

// IntervalsPerSlot splits a slot into a proposal interval followed by
// attestation intervals.
const IntervalsPerSlot = 3

// Interval is the index of an interval within its slot.
type Interval uint64

// SlotClock converts wall-clock time to slots and intervals.
// All time values are in seconds (Unix timestamps).
type SlotClock struct {
	GenesisTime    uint64     // Unix timestamp when the genesis slot began
	GenesisSlot    types.Slot // slot of the genesis block
	SecondsPerSlot uint64
	timeFunc       func() time.Time // Injectable for testing
}

// New creates a SlotClock. A zero secondsPerSlot selects types.SecondsPerSlot.
func New(genesisTime uint64, genesisSlot types.Slot, secondsPerSlot uint64) *SlotClock {
	return NewWithTimeFunc(genesisTime, genesisSlot, secondsPerSlot, time.Now)
}

// NewWithTimeFunc creates a SlotClock with a custom time source (for testing).
func NewWithTimeFunc(genesisTime uint64, genesisSlot types.Slot, secondsPerSlot uint64, timeFunc func() time.Time) *SlotClock {
	if secondsPerSlot == 0 {
		secondsPerSlot = types.SecondsPerSlot
	}
	return &SlotClock{
		GenesisTime:    genesisTime,
		GenesisSlot:    genesisSlot,
		SecondsPerSlot: secondsPerSlot,
		timeFunc:       timeFunc,
	}
}

// secondsSinceGenesis returns seconds elapsed since genesis (0 if before genesis).
func (c *SlotClock) secondsSinceGenesis() uint64 {
	now := uint64(c.timeFunc().Unix())
	if now < c.GenesisTime {
		return 0
	}
	return now - c.GenesisTime
}

// CurrentSlot returns the current slot (the genesis slot if before genesis).
func (c *SlotClock) CurrentSlot() types.Slot {
	return c.GenesisSlot + types.Slot(c.secondsSinceGenesis()/c.SecondsPerSlot)
}

// CurrentInterval returns the current interval within the slot.
func (c *SlotClock) CurrentInterval() Interval {
	secondsIntoSlot := c.secondsSinceGenesis() % c.SecondsPerSlot
	return Interval(secondsIntoSlot * IntervalsPerSlot / c.SecondsPerSlot)
}

// SlotStartTime returns the Unix timestamp when a given slot starts.
func (c *SlotClock) SlotStartTime(slot types.Slot) uint64 {
	if slot < c.GenesisSlot {
		return c.GenesisTime
	}
	return c.GenesisTime + uint64(slot-c.GenesisSlot)*c.SecondsPerSlot
}

// UntilNextSlot returns the time left until the next slot begins.
func (c *SlotClock) UntilNextSlot() time.Duration {
	now := c.timeFunc()
	if c.IsBeforeGenesis() {
		return time.Unix(int64(c.GenesisTime), 0).Sub(now)
	}
	next := c.SlotStartTime(c.CurrentSlot() + 1)
	return time.Unix(int64(next), 0).Sub(now)
}

// IsBeforeGenesis returns true if current time is before genesis.
func (c *SlotClock) IsBeforeGenesis() bool {
	return uint64(c.timeFunc().Unix()) < c.GenesisTime
}
