package routing

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

// Picker chooses one connector of a round-robin route.
type Picker interface {
	Pick(connectors []Connector, counter *atomic.Uint64) Connector
	Name() string
}

// RandomPicker picks uniformly at random.
type RandomPicker struct{}

func (RandomPicker) Name() string { return "random" }
func (RandomPicker) Pick(connectors []Connector, _ *atomic.Uint64) Connector {
	if len(connectors) == 0 {
		return nil
	}
	return connectors[rand.IntN(len(connectors))]
}

// RotatingPicker cycles through the connectors in order, one per call.
type RotatingPicker struct{}

func (RotatingPicker) Name() string { return "rotating" }
func (RotatingPicker) Pick(connectors []Connector, counter *atomic.Uint64) Connector {
	if len(connectors) == 0 {
		return nil
	}
	n := counter.Add(1) - 1
	return connectors[n%uint64(len(connectors))]
}

// PickerFor maps a policy name to a picker, defaulting to random.
func PickerFor(policy string) Picker {
	if strings.EqualFold(policy, "rotating") {
		return RotatingPicker{}
	}
	return RandomPicker{}
}
