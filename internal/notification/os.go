package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

type execRunner struct{}

func (execRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// osChannel shows desktop notifications.
type osChannel struct {
	runner Runner
	goos   string
}

func newOSChannel(r Runner, goos string) *osChannel {
	if r == nil {
		r = execRunner{}
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	return &osChannel{runner: r, goos: goos}
}

func (c *osChannel) Send(n Notification) error {
	switch c.goos {
	case "linux", "freebsd", "openbsd":
		return c.runner.Run("notify-send", "--app-name=pantryat", n.Title, n.Message)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			quoteAppleScript(n.Message), quoteAppleScript(n.Title))
		return c.runner.Run("osascript", "-e", script)
	default:
		return fmt.Errorf("desktop notifications are not supported on %s", c.goos)
	}
}

func (c *osChannel) Close() error { return nil }

// quoteAppleScript escapes s for an AppleScript double-quoted string.
func quoteAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
