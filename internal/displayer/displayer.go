package displayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"elmdiag/internal/connection"
	"elmdiag/internal/models"
	"elmdiag/internal/obd"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Session is the connection as seen by the dashboard.
type Session interface {
	SubscribeState() (<-chan connection.State, func())
	SubscribeErrors() (<-chan error, func())
	Device() (models.DeviceDescriptor, bool)
	Protocol() string
}

// Readings supplies the latest polled values.
type Readings interface {
	Latest() []models.DecodedReading
}

// TroubleCodes scans and clears stored codes.
type TroubleCodes interface {
	Scan(ctx context.Context) obd.ValueResult[[]models.TroubleCode]
	Clear(ctx context.Context) obd.ValueResult[bool]
	Cached() []models.TroubleCode
}

// Displayer handles the TUI.
type Displayer struct {
	app      *tview.Application
	tabs     *tview.Pages
	session  Session
	readings Readings
	codes    TroubleCodes
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time

	mu        sync.Mutex
	state     connection.State
	lastError string

	// UI elements cached for updates
	readingTable *tview.Table
	statusText   *tview.TextView
	errorText    *tview.TextView
	helpText     *tview.TextView
	dtcTable     *tview.Table
}

func New(session Session, readings Readings, codes TroubleCodes) *Displayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Displayer{
		app:      tview.NewApplication(),
		tabs:     tview.NewPages(),
		session:  session,
		readings: readings,
		codes:    codes,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Run blocks until the user quits or ctx ends.
func (d *Displayer) Run(ctx context.Context) error {
	d.build()

	go func() {
		select {
		case <-ctx.Done():
			d.Shutdown()
		case <-d.ctx.Done():
		}
	}()
	go d.watchSession()
	go d.refreshLoop()
	go d.rescan()

	return d.app.Run()
}

func (d *Displayer) Shutdown() {
	d.cancel()
	d.app.Stop()
}

func (d *Displayer) build() {
	title := tview.NewTextView().SetTextAlign(tview.AlignCenter).SetText("elmdiag - ELM327 diagnostics")
	d.statusText = tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true)
	d.errorText = tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true)
	d.helpText = tview.NewTextView().SetTextAlign(tview.AlignCenter).
		SetText("[1 - Dashboard] [2 - DTC] [r - Rescan] [c - Clear codes] [q - Quit]")

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	headerFlex.AddItem(title, 1, 0, false)
	headerFlex.AddItem(d.statusText, 1, 0, false)
	headerFlex.AddItem(d.errorText, 1, 0, false)
	headerFlex.AddItem(d.helpText, 1, 0, false)

	d.readingTable = d.buildDashboard()
	d.dtcTable = d.buildDTC()
	d.tabs.AddPage("dashboard", d.readingTable, true, true)
	d.tabs.AddPage("dtc", d.dtcTable, true, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	mainFlex.AddItem(headerFlex, 4, 0, false)
	mainFlex.AddItem(d.tabs, 0, 1, true)

	d.app.SetRoot(mainFlex, true)
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q', 'Q':
			d.Shutdown()
			return nil
		case '1':
			d.tabs.SwitchToPage("dashboard")
			return nil
		case '2':
			d.tabs.SwitchToPage("dtc")
			return nil
		case 'r', 'R':
			go d.rescan()
			return nil
		case 'c', 'C':
			go d.clear()
			return nil
		}
		return event
	})

	d.updateValues()
	d.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		d.updateValues()
		return false
	})
}

func (d *Displayer) buildDashboard() *tview.Table {
	tbl := tview.NewTable().SetBorders(true)
	setHeader(tbl, "Parameter", "Value", "Age")
	return tbl
}

func (d *Displayer) buildDTC() *tview.Table {
	tbl := tview.NewTable().SetBorders(true)
	setHeader(tbl, "Code", "Description")
	fillCodes(tbl, d.codes.Cached())
	return tbl
}

func setHeader(tbl *tview.Table, titles ...string) {
	for i, t := range titles {
		tbl.SetCell(0, i, tview.NewTableCell(t).SetSelectable(false).SetAlign(tview.AlignCenter))
	}
}

func (d *Displayer) updateValues() {
	now := d.now()
	readings := d.readings.Latest()
	for r := d.readingTable.GetRowCount() - 1; r >= 1; r-- {
		d.readingTable.RemoveRow(r)
	}
	for i, r := range readings {
		name, value, age := readingRow(r, now)
		d.readingTable.SetCell(i+1, 0, tview.NewTableCell(name))
		d.readingTable.SetCell(i+1, 1, tview.NewTableCell(value))
		d.readingTable.SetCell(i+1, 2, tview.NewTableCell(age).SetAlign(tview.AlignRight))
	}

	d.mu.Lock()
	state, lastError := d.state, d.lastError
	d.mu.Unlock()

	device := ""
	if dev, ok := d.session.Device(); ok {
		device = " " + dev.String()
		if p := d.session.Protocol(); p != "" {
			device += " - " + p
		}
	}
	d.statusText.SetText(fmt.Sprintf("Status: %s%s", stateLabel(state), device))
	if lastError != "" {
		d.errorText.SetText("[red]" + tview.Escape(lastError) + "[white]")
	} else {
		d.errorText.SetText("")
	}
}

// watchSession mirrors connection state and errors into the header.
func (d *Displayer) watchSession() {
	states, stopStates := d.session.SubscribeState()
	defer stopStates()
	errs, stopErrs := d.session.SubscribeErrors()
	defer stopErrs()
	for {
		select {
		case <-d.ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			d.mu.Lock()
			d.state = s
			if s == connection.Connected {
				d.lastError = ""
			}
			d.mu.Unlock()
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.setError(err.Error())
		}
		d.app.QueueUpdateDraw(func() {})
	}
}

func (d *Displayer) rescan() {
	res := d.codes.Scan(d.ctx)
	if err := res.Err(); err != nil {
		d.setError("scan: " + res.Message())
	}
	d.app.QueueUpdateDraw(func() {
		fillCodes(d.dtcTable, d.codes.Cached())
	})
}

func (d *Displayer) clear() {
	res := d.codes.Clear(d.ctx)
	if err := res.Err(); err != nil {
		d.setError("clear: " + res.Message())
	}
	d.app.QueueUpdateDraw(func() {
		fillCodes(d.dtcTable, d.codes.Cached())
	})
}

func (d *Displayer) setError(msg string) {
	d.mu.Lock()
	d.lastError = msg
	d.mu.Unlock()
}

func (d *Displayer) refreshLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			// force redraw (BeforeDraw handles dashboard)
			d.app.QueueUpdateDraw(func() {})
		}
	}
}

func fillCodes(tbl *tview.Table, codes []models.TroubleCode) {
	for r := tbl.GetRowCount() - 1; r >= 1; r-- {
		tbl.RemoveRow(r)
	}
	if len(codes) == 0 {
		tbl.SetCell(1, 0, tview.NewTableCell("-"))
		tbl.SetCell(1, 1, tview.NewTableCell("No stored trouble codes"))
		return
	}
	for i, c := range codes {
		tbl.SetCell(i+1, 0, tview.NewTableCell(c.Code))
		tbl.SetCell(i+1, 1, tview.NewTableCell(c.Description))
	}
}

func readingRow(r models.DecodedReading, now time.Time) (name, value, age string) {
	value = r.Display()
	if r.IsError {
		value = "[red]" + tview.Escape(value) + "[white]"
	} else if r.Stale(now, 5*time.Second) {
		value = "[yellow]" + tview.Escape(value) + "[white]"
	}
	return r.Name, value, r.Age(now).Truncate(100 * time.Millisecond).String()
}

func stateLabel(s connection.State) string {
	switch s {
	case connection.Connected:
		return "[green]" + s.String() + "[white]"
	case connection.Failed:
		return "[red]" + s.String() + "[white]"
	case connection.Disconnected:
		return "[gray]" + s.String() + "[white]"
	}
	return "[yellow]" + s.String() + "[white]"
}
