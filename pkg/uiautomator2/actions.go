package uiautomator2

import "github.com/devicelab-dev/autosdk/pkg/gesture"

// W3C action types.
const (
	ActionPointerMove = "pointerMove"
	ActionPointerDown = "pointerDown"
	ActionPointerUp   = "pointerUp"
	ActionPause       = "pause"
)

// PointerAction is one tick of a W3C pointer input source.
type PointerAction struct {
	Type     string `json:"type"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Origin   string `json:"origin,omitempty"`
	Button   int    `json:"button,omitempty"`
}

// PointerParameters describes the input device.
type PointerParameters struct {
	PointerType string `json:"pointerType"`
}

// ActionSequence is the action list of one input source.
type ActionSequence struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Parameters PointerParameters `json:"parameters"`
	Actions    []PointerAction   `json:"actions"`
}

// ActionsRequest is the body of POST /actions.
type ActionsRequest struct {
	Actions []ActionSequence `json:"actions"`
}

// FingerActions translates a gesture into one touch pointer sequence:
// an optional pause for the start delay, a move to the first point, down,
// moves through the rest of the path splitting the duration evenly, up.
// A tap (repeated point) holds with a pause instead of moving.
func FingerActions(spec gesture.Spec) ActionSequence {
	seq := ActionSequence{
		Type:       "pointer",
		ID:         "finger1",
		Parameters: PointerParameters{PointerType: "touch"},
	}

	if ms := spec.StartDelay.Milliseconds(); ms > 0 {
		seq.Actions = append(seq.Actions, PointerAction{Type: ActionPause, Duration: ms})
	}

	start := spec.Start()
	seq.Actions = append(seq.Actions,
		PointerAction{Type: ActionPointerMove, X: int(start.X), Y: int(start.Y), Origin: "viewport"},
		PointerAction{Type: ActionPointerDown},
	)

	total := spec.Duration.Milliseconds()
	if spec.IsTap() || len(spec.Path) < 2 {
		seq.Actions = append(seq.Actions, PointerAction{Type: ActionPause, Duration: total})
	} else {
		segments := int64(len(spec.Path) - 1)
		for i, p := range spec.Path[1:] {
			// Spread the remainder over the first segments.
			d := total / segments
			if int64(i) < total%segments {
				d++
			}
			seq.Actions = append(seq.Actions, PointerAction{
				Type: ActionPointerMove, Duration: d, X: int(p.X), Y: int(p.Y), Origin: "viewport",
			})
		}
	}

	seq.Actions = append(seq.Actions, PointerAction{Type: ActionPointerUp})
	return seq
}

// PerformActions runs W3C action sequences and blocks until the server
// finished them.
func (c *Client) PerformActions(seqs ...ActionSequence) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request("POST", c.sessionPath("/actions"), ActionsRequest{Actions: seqs})
	return err
}

// ReleaseActions releases any pressed pointers.
func (c *Client) ReleaseActions() error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request("DELETE", c.sessionPath("/actions"), nil)
	return err
}
