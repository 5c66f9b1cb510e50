// Package panel drives the wallbox's browser-rendered control panel.
// The wallbox exposes no native API; reading status and pressing
// controls both go through a headless Chrome session scraping the
// panel page.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wallbox_control/internal/models"
)

// Device is the narrow facade the control engine consumes. Each method
// performs exactly one primitive operation against the remote panel and
// may block up to the caller's deadline.
type Device interface {
	// ReadStatus returns the verbatim status text shown by the panel.
	ReadStatus(ctx context.Context) (string, error)
	// ReadMode returns the verbatim mode text shown by the panel.
	ReadMode(ctx context.Context) (string, error)
	// Invoke presses one control on the panel.
	Invoke(ctx context.Context, c models.Control) error
}

// ErrUnreachable wraps network or browser failures reaching the panel.
var ErrUnreachable = errors.New("wallbox panel unreachable")

// controlButtons maps controls to the visible button captions on the
// panel page.
var controlButtons = map[models.Control]string{
	models.ControlStart:    "START CHARGING",
	models.ControlStop:     "STOP CHARGING",
	models.ControlSetEco:   "SET ECO",
	models.ControlSetFull:  "SET FULL",
	models.ControlSetSolar: "SET SOLAR",
}

// buttonCaption returns the caption for a control or an error for
// controls the panel does not have.
func buttonCaption(c models.Control) (string, error) {
	caption, ok := controlButtons[c]
	if !ok {
		return "", fmt.Errorf("panel: no button for control %q", c)
	}
	return caption, nil
}

// statusFromBody extracts the status value from the panel body text.
// The panel renders a line like "Status: Finishing" (older firmware
// omits the colon). Returns "" when no status line is present.
func statusFromBody(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Status") {
			continue
		}
		if _, after, found := strings.Cut(line, ":"); found {
			return strings.TrimSpace(after)
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "Status"))
	}
	return ""
}

// modeFromBody extracts the mode value from a line like "Mode Eco".
func modeFromBody(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Mode") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Mode"))
		}
	}
	return ""
}
