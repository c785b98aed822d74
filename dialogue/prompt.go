// Package dialogue asks a multimodal chat model for one line of dialogue
// about an annotated scene.
package dialogue

import (
	"fmt"
	"strings"
)

const (
	promptIntro = "Generate a single short line of dialogue between these two characters in a movie scene. " +
		"Use the facial expressions in the image to inform the tone of the dialogue and what you say. "
	promptReply = "The other character just said: '%s'. Respond to their statement. " +
		"Make sure it is a new response as if this was a movie scene dialogue. "
	promptDoodles = "Incorporate the doodles in the image as if they are real in the surrounding environment " +
		"they are not doodles they are real! Make it brief and witty. " +
		"Don't repeat the same sentiment or themes from previous dialogue."
)

// BuildPrompt composes the instruction text. A non-empty previous line is
// quoted verbatim as the other character's statement.
func BuildPrompt(previous string) string {
	var sb strings.Builder
	sb.WriteString(promptIntro)
	if previous != "" {
		fmt.Fprintf(&sb, promptReply, previous)
	}
	sb.WriteString(promptDoodles)
	return sb.String()
}

// Position is a normalized point on the screen the dialogue refers to.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultPosition is the screen center.
var DefaultPosition = Position{X: 0.5, Y: 0.5}

// InFrame reports whether p lies within [0, 1] on both axes. Positions
// outside the frame are still accepted; they do not change the prompt.
func (p Position) InFrame() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

type Request struct {
	// Image is base64, optionally data-URI prefixed.
	Image            string
	PreviousDialogue string
	Position         Position
}
