// SPDX-License-Identifier: MIT

package worker

import "encoding/json"

// ControlMessage is the wire shape published on a node's control channel
// (spec.md §4.4). A worker publishes zero or more "progress" messages while
// it initializes, then exactly one "ready" message before it starts
// processing input.
type ControlMessage struct {
	Type     string  `json:"type"`
	Phase    string  `json:"phase,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Message  string  `json:"message,omitempty"`
}

func encodeControlMessage(m ControlMessage) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// ControlMessage has no cyclic or unsupported fields; Marshal cannot
		// fail for a value of this shape.
		panic("worker: control message marshal: " + err.Error())
	}
	return b
}

func decodeControlMessage(b []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
