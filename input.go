package rdclient

import (
	"time"

	"rdclient/internal/protocol"
)

// Mouse event types packed into MouseEvent.Mask, per §4.7.
const (
	mouseTypeDown     = 1
	mouseTypeUp       = 2
	mouseTypeWheel    = 3
	mouseTypeTrackpad = 4
)

// Mouse button bits, per §4.7.
const (
	mouseButtonLeft   = 1
	mouseButtonRight  = 2
	mouseButtonMiddle = 4
)

// macScrollSentinelLo and macScrollSentinelHi are the two delta values a
// synthesized (non-trackpad) wheel event can carry on macOS. Anything else
// is reclassified as a trackpad gesture per §4.7's smooth-scroll heuristic.
const (
	macScrollSentinelLo = 0xff88
	macScrollSentinelHi = 0x780000
)

// macTrackpadScale is the scale factor applied to a reclassified trackpad
// scroll delta.
const macTrackpadScale = 3

// Modifier names sent in MouseEvent.Modifiers / KeyEvent.Modifiers.
const (
	ModAlt     = "alt"
	ModShift   = "shift"
	ModControl = "control"
	ModMeta    = "meta"
)

// InputEncoder builds MouseEvent/KeyEvent wire messages from platform input,
// per §4.7.
type InputEncoder struct {
	// IsMac selects the macOS-specific Ctrl/Meta swap and trackpad
	// reclassification heuristics.
	IsMac bool
	// Dispatch is called for every encoded event, in wire message form,
	// ready to send to the peer.
	Dispatch func(protocol.Message)
	// Sleep allows tests to avoid real delays in the OS-password macro.
	Sleep func(time.Duration)
}

func (ie *InputEncoder) sleep(d time.Duration) {
	if ie.Sleep != nil {
		ie.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (ie *InputEncoder) dispatch(msg protocol.Message) {
	if ie.Dispatch != nil {
		ie.Dispatch(msg)
	}
}

// swapMacModifiers swaps Control and Meta in mods if running on macOS,
// matching host keyboard-layout convention.
func (ie *InputEncoder) swapMacModifiers(mods []string) []string {
	if !ie.IsMac {
		return mods
	}
	out := make([]string, len(mods))
	for i, m := range mods {
		switch m {
		case ModControl:
			out[i] = ModMeta
		case ModMeta:
			out[i] = ModControl
		default:
			out[i] = m
		}
	}
	return out
}

// packMouseMask implements the mask = (buttons<<3) | type packing.
func packMouseMask(buttons, eventType int) int {
	return (buttons << 3) | eventType
}

// EncodeMouseButton sends a mouse down/up event at absolute position (x, y).
func (ie *InputEncoder) EncodeMouseButton(x, y, buttons int, down bool, mods []string) {
	eventType := mouseTypeUp
	if down {
		eventType = mouseTypeDown
	}
	ie.dispatch(protocol.Message{
		Kind: protocol.KindMouseEvent,
		MouseEvent: &protocol.MouseEvent{
			Mask:      packMouseMask(buttons, eventType),
			X:         x,
			Y:         y,
			Modifiers: ie.swapMacModifiers(mods),
		},
	})
}

// EncodeWheel sends a wheel (or, on macOS, reclassified trackpad) event.
// deltaX/deltaY are the raw platform scroll deltas.
func (ie *InputEncoder) EncodeWheel(x, y, deltaX, deltaY int, mods []string) {
	eventType := mouseTypeWheel
	scaledX, scaledY := deltaX, deltaY
	if ie.IsMac && !isSyntheticWheelDelta(deltaX, deltaY) {
		eventType = mouseTypeTrackpad
		scaledX *= macTrackpadScale
		scaledY *= macTrackpadScale
	}
	ie.dispatch(protocol.Message{
		Kind: protocol.KindMouseEvent,
		MouseEvent: &protocol.MouseEvent{
			Mask:      packMouseMask(0, eventType),
			X:         scaledX,
			Y:         scaledY,
			Modifiers: ie.swapMacModifiers(mods),
		},
	})
}

// isSyntheticWheelDelta reports whether delta matches one of the two
// sentinel values the host OS uses for a genuinely synthesized wheel event
// (as opposed to a raw trackpad gesture masquerading as one).
func isSyntheticWheelDelta(deltaX, deltaY int) bool {
	return deltaX == macScrollSentinelLo || deltaY == macScrollSentinelLo ||
		deltaX == macScrollSentinelHi || deltaY == macScrollSentinelHi
}

// EncodeKey sends a single key event.
func (ie *InputEncoder) EncodeKey(code int, down bool, mods []string) {
	ie.dispatch(protocol.Message{
		Kind: protocol.KindKeyEvent,
		KeyEvent: &protocol.KeyEvent{
			Code:      code,
			Down:      down,
			Modifiers: ie.swapMacModifiers(mods),
		},
	})
}

// EncodeTypeSequence sends seq as a single macro-typed KeyEvent. It does not
// append a Return key; RunOSPasswordMacro sends that separately.
func (ie *InputEncoder) EncodeTypeSequence(seq string) {
	ie.dispatch(protocol.Message{Kind: protocol.KindKeyEvent, KeyEvent: &protocol.KeyEvent{Seq: seq, Press: true}})
}

// osPasswordMacroGaps are the fixed delays between steps of the OS-password
// macro, per §4.7.
var osPasswordMacroGaps = struct {
	afterMouseUp time.Duration
	afterMove    time.Duration
	afterClick   time.Duration
}{
	afterMouseUp: 50 * time.Millisecond,
	afterMove:    50 * time.Millisecond,
	afterClick:   1200 * time.Millisecond,
}

// RunOSPasswordMacro implements §4.7's keyboard "OS password" macro: a
// mouse-up nudge, a move to a known screen position, a click to focus the
// OS password field (left-click if a password will be typed, right-click
// to dismiss otherwise), then the password typed as a sequence and a
// trailing Return.
func (ie *InputEncoder) RunOSPasswordMacro(password string) {
	ie.EncodeMouseButton(0, 0, mouseButtonLeft, false, nil)
	ie.sleep(osPasswordMacroGaps.afterMouseUp)

	ie.EncodeMouseButton(3, 3, 0, false, nil)
	ie.sleep(osPasswordMacroGaps.afterMove)

	button := mouseButtonRight
	if password != "" {
		button = mouseButtonLeft
	}
	ie.EncodeMouseButton(3, 3, button, true, nil)
	ie.EncodeMouseButton(3, 3, button, false, nil)
	ie.sleep(osPasswordMacroGaps.afterClick)

	if password != "" {
		ie.EncodeTypeSequence(password)
	}
	ie.dispatch(protocol.Message{Kind: protocol.KindKeyEvent, KeyEvent: &protocol.KeyEvent{Code: keyCodeReturn, Down: true}})
	ie.dispatch(protocol.Message{Kind: protocol.KindKeyEvent, KeyEvent: &protocol.KeyEvent{Code: keyCodeReturn, Down: false}})
}

// keyCodeReturn is the virtual key code for the Return/Enter key.
const keyCodeReturn = 0x0D
