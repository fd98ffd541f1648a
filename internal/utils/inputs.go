package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptYesNo asks prompt on w until r yields y/yes or n/no. EOF counts as no.
func PromptYesNo(prompt string, r io.Reader, w io.Writer) bool {
	scanner := bufio.NewScanner(r)
	for {
		_, _ = fmt.Fprintf(w, "%s (y/n): ", prompt)
		if !scanner.Scan() {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}
