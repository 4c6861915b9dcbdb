// Package safety post-processes tool results before they leave the host:
// shell commands are checked against a blocklist of destructive patterns
// and free text is scrubbed of sensitive data.
package safety

import (
	"fmt"
	"regexp"
)

// UnsafeCommandError is returned when a command matches the blocklist.
// The command must not be shown to the user or handed to any executor.
type UnsafeCommandError struct {
	Command string
	Reason  string
}

// Error implements the error interface.
func (e *UnsafeCommandError) Error() string {
	return fmt.Sprintf("unsafe command blocked: %s", e.Reason)
}

type blockedPattern struct {
	re     *regexp.Regexp
	reason string
}

var blockedCommands = []blockedPattern{
	{regexp.MustCompile(`rm\s+(-rf|-fr)\s+[/~]`), "Recursive delete of important paths"},
	{regexp.MustCompile(`mkfs`), "Filesystem formatting"},
	{regexp.MustCompile(`dd\s+if=`), "Raw disk write"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "Fork bomb"},
	{regexp.MustCompile(`(?i)chmod\s+(-R\s+)?777\s+/`), "Recursive permission change on root"},
	{regexp.MustCompile(`(?i)curl.*\|\s*(sudo\s+)?(bash|sh|zsh)`), "Pipe remote script to shell"},
	{regexp.MustCompile(`(?i)wget.*\|\s*(sudo\s+)?(bash|sh|zsh)`), "Pipe remote script to shell"},
	{regexp.MustCompile(`>\s*/dev/sd`), "Direct disk write"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|halt)\b`), "System power command"},
	{regexp.MustCompile(`(?i)\bpasswd\b`), "Password change"},
	{regexp.MustCompile(`(?i)sudo\s+su`), "Root shell escalation"},
	{regexp.MustCompile(`(?i)eval\s*\(`), "Eval injection"},
	{regexp.MustCompile(`(?i)net\s+user`), "Windows user manipulation"},
	{regexp.MustCompile(`(?i)reg\s+(add|delete)`), "Windows registry modification"},
}

// CheckCommand returns an *UnsafeCommandError if cmd matches a blocked
// pattern, nil otherwise.
func CheckCommand(cmd string) error {
	for _, p := range blockedCommands {
		if p.re.MatchString(cmd) {
			return &UnsafeCommandError{Command: cmd, Reason: p.reason}
		}
	}
	return nil
}
