package bridge

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser opens url in the system browser. Best effort across macOS,
// Linux and Windows.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	// The popup is detached; we never wait on it
	go cmd.Wait()
	return nil
}
