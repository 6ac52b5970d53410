package supervisor

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kolkov/devsv/internal/lifecycle"
)

// PrintStatus writes a colored status table of all services to w.
func (s *Supervisor) PrintStatus(w io.Writer) {
	statuses := s.Status()

	cyan := color.New(color.FgCyan).SprintFunc()
	magenta := color.New(color.FgMagenta, color.Bold).SprintFunc()

	maxNameLen := 8
	maxPidLen := 3
	maxStateLen := 8
	for _, st := range statuses {
		maxNameLen = max(maxNameLen, len(st.Name))
		maxStateLen = max(maxStateLen, len(st.State))
		if st.PID > 0 {
			maxPidLen = max(maxPidLen, len(strconv.Itoa(st.PID)))
		}
	}

	nameFormat := fmt.Sprintf("%%-%ds", maxNameLen)
	pidFormat := fmt.Sprintf("%%-%ds", maxPidLen)
	stateFormat := fmt.Sprintf("%%-%ds", maxStateLen)
	rule := strings.Repeat("-", maxNameLen+maxPidLen+maxStateLen+30)

	fmt.Fprintln(w)
	fmt.Fprintln(w, magenta("DEVELOPMENT SERVICES STATUS"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%s | %s | %s | %-8s | %s\n",
		cyan(fmt.Sprintf(nameFormat, "Service")),
		cyan(fmt.Sprintf(pidFormat, "PID")),
		cyan(fmt.Sprintf(stateFormat, "State")),
		cyan("Uptime"),
		cyan("Message"),
	)
	fmt.Fprintln(w, rule)

	var running, failed, active int
	for _, st := range statuses {
		pid := "N/A"
		if st.PID > 0 {
			pid = strconv.Itoa(st.PID)
		}
		uptime := "N/A"
		if !st.Since.IsZero() {
			uptime = formatUptime(time.Since(st.Since))
		}

		switch st.State {
		case lifecycle.Running:
			running++
			active++
		case lifecycle.Starting, lifecycle.Stopping:
			active++
		case lifecycle.FailedToStart, lifecycle.FailedToStop, lifecycle.StopIncomplete:
			failed++
		}

		fmt.Fprintf(w, "%s | %s | %s | %-8s | %s\n",
			fmt.Sprintf(nameFormat, st.Name),
			fmt.Sprintf(pidFormat, pid),
			StateColor(st.State).Sprintf(stateFormat, st.State),
			uptime,
			st.Message,
		)
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Services: %d | %s | %s | %s\n\n",
		len(statuses),
		color.GreenString("Running: %d", running),
		color.RedString("Failed: %d", failed),
		color.YellowString("Active: %d", active),
	)
}

// StateColor is the console color used for a state.
func StateColor(st lifecycle.State) *color.Color {
	switch st {
	case lifecycle.Running:
		return color.New(color.FgGreen)
	case lifecycle.Starting, lifecycle.Stopping:
		return color.New(color.FgYellow)
	case lifecycle.FailedToStart, lifecycle.FailedToStop:
		return color.New(color.FgRed)
	case lifecycle.StopIncomplete:
		return color.New(color.FgMagenta)
	case lifecycle.Stopped:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgCyan)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d - h*time.Hour) / time.Minute
	s := (d - h*time.Hour - m*time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%02dm%02ds", m, s)
}
