// Package tui is the interactive terminal front end of devsv. It only
// renders supervisor state and forwards key presses as operations.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/logtail"
	"github.com/kolkov/devsv/internal/supervisor"
)

// Controller is the part of the supervisor the UI drives.
type Controller interface {
	StartService(name string)
	StopService(name string)
	RestartService(name string)
	StartAll()
	StopAll()
	RestartAll()
	Status() []supervisor.ServiceStatus
	LogPath(name string) (string, error)
	Subscribe(fn func(supervisor.StatusEvent)) *supervisor.Subscription
}

const (
	pageMain = "main"
	pageLog  = "log"

	statusLogLines = 500
)

var columns = []string{"Service", "PID", "State", "Uptime", "Message"}

type App struct {
	ctl  Controller
	logs *logtail.Reader
	log  *zap.SugaredLogger

	app       *tview.Application
	pages     *tview.Pages
	table     *tview.Table
	statusLog *tview.TextView
	logView   *tview.TextView

	mu         sync.Mutex
	statusRows []string
	stopFollow logtail.StopFunc
}

func New(ctl Controller, log *zap.SugaredLogger) *App {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &App{
		ctl:  ctl,
		logs: logtail.NewReader(),
		log:  log,
		app:  tview.NewApplication(),
	}

	a.table = tview.NewTable().
		SetBorders(true).
		SetFixed(1, 1).
		SetSelectable(true, false)

	headerStyle := tcell.Style{}.
		Foreground(tcell.ColorYellow).
		Background(tcell.ColorBlack).
		Bold(true)
	for i, title := range columns {
		a.table.SetCell(0, i, tview.NewTableCell(title).SetStyle(headerStyle).SetSelectable(false))
	}
	a.table.SetBorder(true).SetTitle(" Services ")

	a.statusLog = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.statusLog.SetBorder(true).SetTitle(" Status ")

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]s[-] start  [yellow]x[-] stop  [yellow]r[-] restart  " +
			"[yellow]S/X/R[-] all  [yellow]l[-] log  [yellow]q[-] quit")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.table, 0, 2, true).
		AddItem(a.statusLog, 10, 1, false).
		AddItem(help, 1, 0, false)

	a.logView = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true)
	a.logView.SetBorder(true)

	a.pages = tview.NewPages().
		AddPage(pageMain, layout, true, true).
		AddPage(pageLog, a.logView, true, false)

	a.app.SetRoot(a.pages, true).SetFocus(a.table)
	a.app.SetInputCapture(a.handleKey)

	a.refresh()
	return a
}

// Run shows the UI until the user quits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	sub := a.ctl.Subscribe(func(ev supervisor.StatusEvent) {
		a.app.QueueUpdateDraw(func() {
			a.appendStatus(ev)
			a.refresh()
		})
	})
	defer sub.Unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				a.app.Stop()
				return
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	err := a.app.Run()
	a.closeLog()
	return err
}

func (a *App) selected() (string, bool) {
	row, _ := a.table.GetSelection()
	if row < 1 || row >= a.table.GetRowCount() {
		return "", false
	}
	return a.table.GetCell(row, 0).Text, true
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if a.viewingLog() {
		switch {
		case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
			a.closeLog()
			return nil
		case event.Key() == tcell.KeyCtrlC:
			a.app.Stop()
			return nil
		}
		return event
	}

	switch event.Key() {
	case tcell.KeyCtrlC:
		a.app.Stop()
		return nil
	case tcell.KeyRune:
	default:
		return event
	}

	switch event.Rune() {
	case 'q':
		a.app.Stop()
	case 'S':
		a.ctl.StartAll()
	case 'X':
		a.ctl.StopAll()
	case 'R':
		a.ctl.RestartAll()
	case 's', 'x', 'r', 'l':
		name, ok := a.selected()
		if !ok {
			return nil
		}
		switch event.Rune() {
		case 's':
			a.ctl.StartService(name)
		case 'x':
			a.ctl.StopService(name)
		case 'r':
			a.ctl.RestartService(name)
		case 'l':
			a.openLog(name)
		}
	default:
		return event
	}
	return nil
}

// refresh redraws the services table from a fresh snapshot.
func (a *App) refresh() {
	for i, st := range a.ctl.Status() {
		row := i + 1
		pid := "N/A"
		if st.PID > 0 {
			pid = strconv.Itoa(st.PID)
		}
		uptime := "N/A"
		if !st.Since.IsZero() {
			uptime = formatUptime(time.Since(st.Since))
		}

		a.table.SetCell(row, 0, tview.NewTableCell(st.Name))
		a.table.SetCell(row, 1, tview.NewTableCell(pid))
		a.table.SetCell(row, 2, tview.NewTableCell(string(st.State)).SetTextColor(stateColor(st.State)))
		a.table.SetCell(row, 3, tview.NewTableCell(uptime))
		a.table.SetCell(row, 4, tview.NewTableCell(st.Message).SetExpansion(1))
	}
}

func (a *App) appendStatus(ev supervisor.StatusEvent) {
	line := fmt.Sprintf("[gray]%s[-] [::b]%s[::-] %s",
		ev.Time.Format("15:04:05"),
		tview.Escape(ev.Service),
		tview.Escape(ev.Message))
	if ev.State != "" {
		line += fmt.Sprintf(" [%s](%s)[-]", stateTag(ev.State), ev.State)
	}

	a.mu.Lock()
	a.statusRows = append(a.statusRows, line)
	if len(a.statusRows) > statusLogLines {
		a.statusRows = a.statusRows[len(a.statusRows)-statusLogLines:]
	}
	rows := a.statusRows
	a.mu.Unlock()

	a.statusLog.Clear()
	for _, r := range rows {
		fmt.Fprintln(a.statusLog, r)
	}
	a.statusLog.ScrollToEnd()
}

func (a *App) viewingLog() bool {
	name, _ := a.pages.GetFrontPage()
	return name == pageLog
}

// openLog shows the service log and keeps it current while it is open.
func (a *App) openLog(name string) {
	path, err := a.ctl.LogPath(name)
	if err != nil || path == "" {
		a.appendStatus(supervisor.StatusEvent{Service: name, Message: "No log file configured.", Time: time.Now()})
		return
	}

	a.logView.SetTitle(fmt.Sprintf(" %s: %s (Esc to close) ", name, path))
	a.logView.SetText("")
	a.pages.SwitchToPage(pageLog)
	a.app.SetFocus(a.logView)

	stop, err := a.logs.Follow(context.Background(), path, func(content string, err error) {
		if err != nil {
			content = "Log file not found."
		}
		a.app.QueueUpdateDraw(func() {
			a.logView.SetText(content)
			a.logView.ScrollToEnd()
		})
	})
	if err != nil {
		a.log.Warnf("Following %s: %v", path, err)
		content, tailErr := a.logs.Tail(path)
		if tailErr != nil {
			content = "Log file not found."
		}
		a.logView.SetText(content)
		a.logView.ScrollToEnd()
		return
	}

	a.mu.Lock()
	a.stopFollow = stop
	a.mu.Unlock()
}

func (a *App) closeLog() {
	a.mu.Lock()
	stop := a.stopFollow
	a.stopFollow = nil
	a.mu.Unlock()

	if stop != nil {
		if err := stop(); err != nil {
			a.log.Debugf("Stopping log follow: %v", err)
		}
	}
	a.pages.SwitchToPage(pageMain)
	a.app.SetFocus(a.table)
}

func stateColor(st lifecycle.State) tcell.Color {
	switch st {
	case lifecycle.Running:
		return tcell.ColorGreen
	case lifecycle.Starting, lifecycle.Stopping:
		return tcell.ColorYellow
	case lifecycle.FailedToStart, lifecycle.FailedToStop:
		return tcell.ColorRed
	case lifecycle.StopIncomplete:
		return tcell.ColorFuchsia
	case lifecycle.Stopped:
		return tcell.ColorBlue
	default:
		return tcell.ColorWhite
	}
}

func stateTag(st lifecycle.State) string {
	switch st {
	case lifecycle.Running:
		return "green"
	case lifecycle.Starting, lifecycle.Stopping:
		return "yellow"
	case lifecycle.FailedToStart, lifecycle.FailedToStop:
		return "red"
	case lifecycle.StopIncomplete:
		return "fuchsia"
	default:
		return "blue"
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	return fmt.Sprintf("%02dm%02ds", m, s)
}
