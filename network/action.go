package network

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ActionKind names what a button does.
type ActionKind string

const (
	// car picker
	ActionCarPrev   ActionKind = "cp"
	ActionCarNext   ActionKind = "cn"
	ActionCarAccept ActionKind = "ca"
	ActionCarReject ActionKind = "cr"

	// time picker (register and remove)
	ActionTimePrev   ActionKind = "tp"
	ActionTimeNext   ActionKind = "tn"
	ActionTimeAccept ActionKind = "ta"
	ActionTimeReject ActionKind = "tr"

	// stats pager
	ActionStatsPrev ActionKind = "sp"
	ActionStatsNext ActionKind = "sn"

	// game control
	ActionFinishGame ActionKind = "fg"
	ActionWinner     ActionKind = "wn"
	ActionPick       ActionKind = "pk"
	ActionAdvance    ActionKind = "ad"
	ActionRedo       ActionKind = "rd"
)

var knownActions = map[ActionKind]bool{
	ActionCarPrev: true, ActionCarNext: true, ActionCarAccept: true, ActionCarReject: true,
	ActionTimePrev: true, ActionTimeNext: true, ActionTimeAccept: true, ActionTimeReject: true,
	ActionStatsPrev: true, ActionStatsNext: true,
	ActionFinishGame: true, ActionWinner: true, ActionPick: true, ActionAdvance: true, ActionRedo: true,
}

// MaxCustomID is the longest custom id a button may carry.
const MaxCustomID = 100

var (
	ErrMalformedAction = errors.New("malformed action")
	ErrActionTooLong   = errors.New("action exceeds custom id limit")
)

// Action is the decoded payload of a button.
type Action struct {
	Kind      ActionKind
	SurfaceID string
	RoundID   string
	RaceIndex int
	Target    string
}

// Encode renders kind:surface:round:index:target.
func (a Action) Encode() (string, error) {
	if !knownActions[a.Kind] {
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformedAction, a.Kind)
	}
	for _, part := range []string{a.SurfaceID, a.RoundID} {
		if strings.Contains(part, ":") {
			return "", fmt.Errorf("%w: %q contains ':'", ErrMalformedAction, part)
		}
	}
	id := strings.Join([]string{string(a.Kind), a.SurfaceID, a.RoundID, strconv.Itoa(a.RaceIndex), a.Target}, ":")
	if len(id) > MaxCustomID {
		return "", fmt.Errorf("%w: %d bytes", ErrActionTooLong, len(id))
	}
	return id, nil
}

// MustEncode is Encode for ids built from trusted parts.
func (a Action) MustEncode() string {
	id, err := a.Encode()
	if err != nil {
		panic(err)
	}
	return id
}

// Button builds a button that carries a.
func (a Action) Button(label string, style ButtonStyle) Button {
	return Button{Label: label, CustomID: a.MustEncode(), Style: style}
}

// DecodeAction parses a custom id produced by Encode.
func DecodeAction(customID string) (Action, error) {
	if len(customID) > MaxCustomID {
		return Action{}, ErrActionTooLong
	}
	parts := strings.SplitN(customID, ":", 5)
	if len(parts) != 5 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformedAction, customID)
	}
	kind := ActionKind(parts[0])
	if !knownActions[kind] {
		return Action{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedAction, parts[0])
	}
	if parts[1] == "" {
		return Action{}, fmt.Errorf("%w: missing surface", ErrMalformedAction)
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil || index < 0 {
		return Action{}, fmt.Errorf("%w: bad race index %q", ErrMalformedAction, parts[3])
	}
	return Action{Kind: kind, SurfaceID: parts[1], RoundID: parts[2], RaceIndex: index, Target: parts[4]}, nil
}
