package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"autopause/internal/detector"
	"autopause/internal/device"
	"autopause/internal/registry"
)

// Menu colors and formatting (ANSI escape codes)
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
)

const rule = "─────────────────────────────────────────────"

// Menu is the interactive device picker.
type Menu struct {
	app *app
	kb  *Keyboard
	out io.Writer
}

// NewMenu creates a menu on stdin/stdout.
func NewMenu(a *app) *Menu {
	return &Menu{app: a, kb: NewStdinKeyboard(), out: os.Stdout}
}

// listEntry is one selectable row of a device list.
type listEntry struct {
	label  string
	target detector.Target
	saved  bool
}

// Run shows the main menu until the user quits or ctx ends.
func (m *Menu) Run(ctx context.Context) {
	categories := device.Categories()

	for {
		m.clearScreen()
		m.printHeader()
		m.printMainMenu(categories)

		choice, err := m.prompt(ctx, "Select an option")
		if err != nil {
			m.printGoodbye()
			return
		}

		switch c := strings.ToLower(choice); {
		case c == "q" || c == "quit" || c == "exit" || c == "0":
			m.printGoodbye()
			return
		case c == "l" || c == "learn":
			m.learnDevice(ctx)
		default:
			n, err := strconv.Atoi(c)
			if err != nil || n < 1 || n > len(categories) {
				m.printError("Invalid option.")
				m.waitForEnter(ctx)
				continue
			}
			m.deviceList(ctx, categories[n-1])
		}

		if ctx.Err() != nil {
			m.printGoodbye()
			return
		}
	}
}

func (m *Menu) clearScreen() {
	fmt.Fprint(m.out, "\033[H\033[2J")
}

func (m *Menu) printHeader() {
	fmt.Fprintln(m.out, colorCyan+banner+colorReset)
	fmt.Fprintln(m.out, colorBold+"  Pause playback when a device disconnects"+colorReset)
	fmt.Fprintln(m.out, colorDim+"  Version "+Version+colorReset)
	fmt.Fprintln(m.out)
}

func (m *Menu) printMainMenu(categories []device.Category) {
	fmt.Fprintln(m.out, colorBold+rule+colorReset)
	fmt.Fprintln(m.out, colorBold+" MAIN MENU"+colorReset)
	fmt.Fprintln(m.out, colorBold+rule+colorReset)
	for i, c := range categories {
		saved := len(m.app.registry.ListByCategory(c))
		suffix := ""
		if saved > 0 {
			suffix = fmt.Sprintf(colorDim+"  (%d saved)"+colorReset, saved)
		}
		fmt.Fprintf(m.out, "  [%d] %s%s\n", i+1, c, suffix)
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  [l] Learn a device (unplug to capture it)")
	fmt.Fprintln(m.out, "  [q] Quit")
	fmt.Fprintln(m.out)
}

// deviceList shows saved devices, the listen-to-all entry and the detected
// devices for c, and runs the chosen session. It returns when the user asks
// for the main menu.
func (m *Menu) deviceList(ctx context.Context, c device.Category) {
	for ctx.Err() == nil {
		m.clearScreen()
		fmt.Fprintln(m.out, colorBold+rule+colorReset)
		fmt.Fprintf(m.out, colorBold+" %s"+colorReset+"\n", strings.ToUpper(c.String()))
		fmt.Fprintln(m.out, colorBold+rule+colorReset)
		fmt.Fprintln(m.out, colorDim+" Scanning..."+colorReset)

		entries := m.buildEntries(ctx, c)

		fmt.Fprint(m.out, "\033[1A\033[2K")
		for i, e := range entries {
			label := e.label
			if e.saved {
				label = colorGreen + "★ " + label + colorReset
			}
			fmt.Fprintf(m.out, "  [%d] %s\n", i+1, label)
		}
		if len(entries) == 1 {
			fmt.Fprintln(m.out, colorDim+"  No devices detected."+colorReset)
		}
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  [r] Rescan    [b] Back")
		fmt.Fprintln(m.out)

		choice, err := m.prompt(ctx, "Select a device")
		if err != nil {
			return
		}
		switch strings.ToLower(choice) {
		case "b", "back", "":
			return
		case "r":
			continue
		}

		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(entries) {
			m.printError("Invalid selection.")
			m.waitForEnter(ctx)
			continue
		}

		if m.listen(ctx, entries[n-1].target) == detector.ReturnToMainMenu {
			return
		}
	}
}

// buildEntries lists saved devices first, then listen-to-all, then the
// currently connected devices.
func (m *Menu) buildEntries(ctx context.Context, c device.Category) []listEntry {
	var entries []listEntry
	for _, d := range m.app.registry.ListByCategory(c) {
		entries = append(entries, listEntry{
			label:  d.FriendlyName,
			target: detector.ByID(c, d.FriendlyName, d.HardwareID),
			saved:  true,
		})
	}

	all := detector.ListenAll(c)
	entries = append(entries, listEntry{label: "Listen to " + all.Title, target: all})

	for _, name := range m.app.scanner.Scan(ctx, c) {
		entries = append(entries, listEntry{label: name, target: detector.ByName(c, name)})
	}
	return entries
}

// listen runs one session until Backspace (device list) or F1 (main menu).
func (m *Menu) listen(ctx context.Context, t detector.Target) detector.Outcome {
	session, err := m.app.engine.Start(ctx, t)
	if err != nil {
		m.printError(fmt.Sprintf("Could not start listening: %v", err))
		m.waitForEnter(ctx)
		return detector.ReturnToList
	}

	m.clearScreen()
	fmt.Fprintln(m.out, colorBold+rule+colorReset)
	fmt.Fprintf(m.out, colorBold+" LISTENING: %s"+colorReset+"\n", t.Title)
	fmt.Fprintln(m.out, colorBold+rule+colorReset)
	fmt.Fprintf(m.out, " Mode:     %s\n", describeMode(session.Mode()))
	fmt.Fprintf(m.out, " Key:      %s (cooldown %s)\n", m.app.debouncer.Key(), m.app.debouncer.Window())
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, colorDim+" [Backspace] device list    [F1] main menu"+colorReset)
	fmt.Fprintln(m.out)

	restore := m.kb.MakeRaw()
	defer restore()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.watchSession(session)
	}()

	key, err := m.kb.WaitKey(ctx, func(k Key) bool {
		return k == KeyBackspace || k == KeyF1 || k == KeyInterrupt
	})

	outcome := detector.ReturnToList
	if err != nil || key == KeyF1 || key == KeyInterrupt {
		outcome = detector.ReturnToMainMenu
	}
	m.app.engine.Stop(outcome)
	wg.Wait()
	return outcome
}

// watchSession reports a detector failure once while the session runs.
func (m *Menu) watchSession(s *detector.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			if err := s.Err(); err != nil {
				fmt.Fprintf(m.out, "%s Detection stopped: %v. Press Backspace to choose again.%s\r\n", colorYellow+"⚠", err, colorReset)
				return
			}
		}
	}
}

func describeMode(s detector.State) string {
	switch s {
	case detector.SmartDisplayActive:
		return colorGreen + "smart display (signal loss)" + colorReset
	case detector.EventActive:
		return colorGreen + "event notifications" + colorReset
	case detector.PollingActive:
		return colorYellow + "polling (notifications unavailable)" + colorReset
	default:
		return s.String()
	}
}

// learnDevice captures a device by waiting for its removal, then saves it.
func (m *Menu) learnDevice(ctx context.Context) {
	m.clearScreen()
	fmt.Fprintln(m.out, colorBold+rule+colorReset)
	fmt.Fprintln(m.out, colorBold+" LEARN A DEVICE"+colorReset)
	fmt.Fprintln(m.out, colorBold+rule+colorReset)

	categories := device.Categories()
	for i, c := range categories {
		fmt.Fprintf(m.out, "  [%d] %s\n", i+1, c)
	}
	fmt.Fprintln(m.out, "  [b] Back")
	fmt.Fprintln(m.out)

	choice, err := m.prompt(ctx, "Save under which category")
	if err != nil {
		return
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(categories) {
		return
	}
	category := categories[n-1]

	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, " Make sure the device is plugged in.")
	fmt.Fprintln(m.out, colorDim+" [Enter] start    [Backspace] cancel"+colorReset)

	restore := m.kb.MakeRaw()
	key, err := m.kb.WaitKey(ctx, func(k Key) bool {
		return k == KeyEnter || k == KeyBackspace || k == KeyInterrupt
	})
	if err != nil || key != KeyEnter {
		restore()
		m.printInfo("Learning cancelled.")
		m.waitForEnter(ctx)
		return
	}

	fmt.Fprint(m.out, "\r\n Unplug the device now...\r\n")
	fmt.Fprint(m.out, colorDim+" [Backspace] cancel"+colorReset+"\r\n")

	learnCtx, cancelLearn := context.WithCancel(ctx)
	defer cancelLearn()

	watchCtx, stopWatch := context.WithCancel(learnCtx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if _, err := m.kb.WaitKey(watchCtx, func(k Key) bool {
			return k == KeyBackspace || k == KeyInterrupt
		}); err == nil {
			cancelLearn()
		}
	}()

	var once sync.Once
	finishWait := func() {
		once.Do(func() {
			stopWatch()
			<-watchDone
			restore()
		})
	}
	defer finishWait()

	saved, err := m.app.learner.Learn(learnCtx, category, func(ctx context.Context, rec device.Record) (string, error) {
		finishWait()
		fmt.Fprintln(m.out)
		m.printSuccess("Captured: " + rec.Name)
		fmt.Fprintf(m.out, colorDim+"   %s"+colorReset+"\n", rec.ID)
		name, err := m.prompt(ctx, "Friendly name (Enter keeps \""+rec.Name+"\")")
		if err != nil {
			return "", registry.ErrCancelled
		}
		return name, nil
	})
	finishWait()

	switch {
	case errors.Is(err, registry.ErrCancelled):
		m.printInfo("Learning cancelled.")
	case err != nil:
		m.printError(fmt.Sprintf("Learning failed: %v", err))
	default:
		m.printSuccess(fmt.Sprintf("Saved %q under %s.", saved.FriendlyName, category))
	}
	m.waitForEnter(ctx)
}

func (m *Menu) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(m.out, colorCyan+" "+label+": "+colorReset)
	line, err := m.kb.ReadLine(ctx)
	return strings.TrimSpace(line), err
}

func (m *Menu) waitForEnter(ctx context.Context) {
	fmt.Fprint(m.out, colorDim+" Press Enter to continue..."+colorReset)
	_, _ = m.kb.ReadLine(ctx)
}

func (m *Menu) printError(message string) {
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, colorRed+" ✗ "+message+colorReset)
	fmt.Fprintln(m.out)
}

func (m *Menu) printSuccess(message string) {
	fmt.Fprintln(m.out, colorGreen+" ✓ "+message+colorReset)
}

func (m *Menu) printInfo(message string) {
	fmt.Fprintln(m.out, colorDim+" ○ "+message+colorReset)
}

func (m *Menu) printGoodbye() {
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, colorDim+" Goodbye!"+colorReset)
	fmt.Fprintln(m.out)
}
