// Package tray shows the live loop's state in the system tray.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

const title = "Senas"

// Tray is the system tray menu: an enable toggle, the last recognized
// sign, a dashboard link and quit.
type Tray struct {
	mu          sync.RWMutex
	enabled     bool
	last        string
	onToggle    func(enabled bool)
	onDashboard func()
	onQuit      func()

	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New returns an enabled tray.
func New() *Tray {
	return &Tray{enabled: true}
}

// OnToggle sets the callback for the enable toggle.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback for the dashboard item.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback run before the tray exits.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run blocks until Quit. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit exits Run.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle(title)
	systray.SetTooltip("Senas sign recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Pause or resume recognition")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last, 0), "Last recognized sign")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	dashboard := systray.AddMenuItem("Open dashboard...", "Open the web dashboard")
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit Senas")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.Toggle()
			case <-dashboard.ClickedCh:
				t.mu.RLock()
				fn := t.onDashboard
				t.mu.RUnlock()
				if fn != nil {
					fn()
				}
			case <-quit.ClickedCh:
				t.mu.RLock()
				fn := t.onQuit
				t.mu.RUnlock()
				if fn != nil {
					fn()
				}
				systray.Quit()
				return
			}
		}
	}()
}

// Toggle flips the enabled state and runs the toggle callback.
func (t *Tray) Toggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	fn := t.onToggle
	t.mu.Unlock()

	if fn != nil {
		fn(enabled)
	}
}

// SetLast shows the last recognized sign. Repeats of the same label are
// not redrawn.
func (t *Tray) SetLast(label string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if label == t.last {
		return
	}
	t.last = label
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(label, confidence))
		systray.SetTitle(title + " " + label)
	}
}

// Last returns the label shown in the menu.
func (t *Tray) Last() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsEnabled returns the toggle state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Paused"
}

func lastTitle(label string, confidence float64) string {
	if label == "" {
		return "Last: none"
	}
	return fmt.Sprintf("Last: %s (%.0f%%)", label, confidence*100)
}
