// Package validation holds checks for strings that end up on a command line
// or inside a rendered shell script.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// A bare command name or an absolute path to one.
	commandRegex = regexp.MustCompile(`^(/[A-Za-z0-9_.+-]+)+$|^[A-Za-z0-9_.+-]+$`)

	// Valid identifier: alphanumeric, dash, underscore, dot
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// Characters with meaning to sh
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r", " ", "\t"}
)

// ValidateCommand checks a binary that is spliced into a script or exec'd
// directly, e.g. "iptables" or "/system/bin/su".
func ValidateCommand(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if c := dangerousChar(cmd); c != "" {
		return fmt.Errorf("command contains dangerous character %q", c)
	}
	if strings.Contains(cmd, "..") || filepath.Clean(cmd) != cmd {
		return fmt.Errorf("command path must be clean: %s", cmd)
	}
	if !commandRegex.MatchString(cmd) {
		return fmt.Errorf("invalid command: %s", cmd)
	}
	return nil
}

// ValidateIdentifier validates an executable identity name.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_.)", id)
	}
	return nil
}

// ValidateArg rejects shell arguments that cannot be passed through exec.
func ValidateArg(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("null byte in argument")
	}
	return nil
}

// SanitizeString removes dangerous characters from a string (for display purposes)
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}

func dangerousChar(s string) string {
	for _, char := range dangerousChars {
		if strings.Contains(s, char) {
			return char
		}
	}
	return ""
}
