// Package prompt detects interactive trust/confirmation prompts a worker CLI
// writes to its own stdout when run non-interactively — the scenario this
// system exists to automate away in autonomous mode (§8 scenario 3). No
// teacher analog exists for this: the source system's workers either always
// run headless or always run attended, never switch mid-stream, so this
// detection logic and its settle delay are new, written in the supervisor's
// channel-of-typed-messages idiom from §9.
package prompt

import (
	"regexp"
	"time"
)

// SettleDelay is how long the supervisor waits after detecting a prompt
// before writing the resolution to stdin, giving the child's readline loop
// time to finish rendering the prompt and start reading.
const SettleDelay = 500 * time.Millisecond

// pattern matches the trust/confirmation prompts worker CLIs print before
// executing in a fresh or unrecognized directory. Anchored loosely (case
// insensitive, substring match) since CLIs vary in exact wording but converge
// on "trust"/"created" framing with a bracketed default.
var pattern = regexp.MustCompile(`(?i)is this (a |the )?project you (created|trust)[^?]*\?\s*\[y/N\]`)

// Detect reports whether line contains a trust/confirmation prompt, and if
// so the text to write to the child's stdin to accept it.
func Detect(line string) (response string, ok bool) {
	if pattern.MatchString(line) {
		return "1\n", true
	}
	return "", false
}
