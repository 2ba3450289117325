package notify

import (
	"context"
	"fmt"
	"io"
	"surgerywatch/internal/chrono"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/watch"
	"surgerywatch/lib/htmlutil"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const bell = "\a"

// Console prints changes to a terminal, status labels are drawn in the colors the
// portal's legend uses for them.
type Console struct {
	out      io.Writer
	renderer *lipgloss.Renderer
	legend   tracker.Legend
	time     chrono.TimeAPI
	// Bell rings the terminal bell on alerts and on exit.
	Bell bool
}

func NewConsole(out io.Writer, legend tracker.Legend, time chrono.TimeAPI) *Console {
	return &Console{
		out:      out,
		renderer: lipgloss.NewRenderer(out),
		legend:   legend,
		time:     time,
		Bell:     true,
	}
}

// SetLegend replaces the legend used to color status labels.
func (c *Console) SetLegend(legend tracker.Legend) {
	c.legend = legend
}

// Renderer exposes the lipgloss renderer, mostly so the color profile can be forced.
func (c *Console) Renderer() *lipgloss.Renderer {
	return c.renderer
}

// StyleStatus renders a status label in its legend colors, a status without a usable
// color pair is returned bold.
func (c *Console) StyleStatus(status string) string {
	style := c.renderer.NewStyle().Bold(true)
	pair, ok := c.legend.ColorsOf(status)
	if !ok {
		return style.Render(status)
	}
	fg, fgErr := htmlutil.ToHex(pair.Foreground)
	bg, bgErr := htmlutil.ToHex(pair.Background)
	if fgErr == nil {
		style = style.Foreground(lipgloss.Color(fg))
	}
	if bgErr == nil {
		style = style.Background(lipgloss.Color(bg)).Padding(0, 1)
	}
	return style.Render(status)
}

func (c *Console) timestamp() string {
	return c.renderer.NewStyle().Faint(true).Render(c.time.Now().Format("15:04:05"))
}

func (c *Console) formatValue(property string, value any) string {
	switch v := value.(type) {
	case nil:
		return "(none)"
	case time.Time:
		return v.In(c.time.Location()).Format("Jan 2 15:04")
	case string:
		if property == "status" {
			return c.StyleStatus(v)
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (c *Console) Change(ctx context.Context, current tracker.PatientStatus, change watch.StatusChange) error {
	_, err := fmt.Fprintf(
		c.out,
		"%s %s: %s -> %s\n",
		c.timestamp(),
		change.Property,
		c.formatValue(change.Property, change.Old),
		c.formatValue(change.Property, change.New),
	)
	return err
}

func (c *Console) Alert(ctx context.Context, current tracker.PatientStatus, changes []watch.StatusChange) error {
	if !c.Bell {
		return nil
	}
	_, err := io.WriteString(c.out, bell)
	return err
}

func (c *Console) Exit(ctx context.Context, result watch.Result) error {
	prefix := ""
	if c.Bell {
		prefix = bell
	}
	_, err := fmt.Fprintf(
		c.out,
		"%s%s patient %s is %s (%d polls, %s)\n",
		prefix,
		c.timestamp(),
		result.Status.PatientID,
		c.formatValue("status", derefStatus(result.Status)),
		result.Polls,
		result.Elapsed,
	)
	return err
}

func derefStatus(s tracker.PatientStatus) any {
	if s.Status == nil {
		return nil
	}
	return *s.Status
}
