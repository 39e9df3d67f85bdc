package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
	"github.com/CK6170/forcecal-go/ui"
)

func main() {
	plain := flag.Bool("plain", false, "use the single-key console menu instead of the full-screen UI")
	demo := flag.Bool("demo", false, "use a simulated sensor instead of the serial bridge")
	logPath := flag.String("log", "", "write diagnostics to this file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [parameters.json]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	configPath := strings.TrimSpace(flag.Arg(0))

	closeLog, err := setupLogging(*logPath, *plain)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer closeLog()

	if !*plain {
		p := tea.NewProgram(initialModel(configPath, *demo), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, sess, err := connect(configPath, *demo)
	if err != nil {
		ui.Errorf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = dev.Close() }()
	if err := runPlain(ctx, dev, sess); err != nil {
		ui.Errorf("%v\n", err)
		os.Exit(1)
	}
}

// setupLogging routes slog to a file when asked. Without a file the
// full-screen UI keeps diagnostics off the terminal; plain mode logs
// warnings to stderr.
func setupLogging(path string, plain bool) (func(), error) {
	var w io.Writer = io.Discard
	level := slog.LevelInfo
	closeFn := func() {}
	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		w = f
		level = slog.LevelDebug
		closeFn = func() { _ = f.Close() }
	case plain:
		w = os.Stderr
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

// connect loads the parameters, opens the sensor and starts a session.
func connect(configPath string, demo bool) (*forcecal.Device, *forcecal.Session, error) {
	p := forcecal.DefaultParameters()
	if configPath != "" {
		var err error
		if p, err = forcecal.LoadParameters(configPath); err != nil {
			return nil, nil, err
		}
	}
	ui.Debugf(p.DEBUG, "Loaded config: %s (DEBUG=%v)\n", configPath, p.DEBUG)

	var dev *forcecal.Device
	if demo {
		dev = forcecal.ConnectDemo(p)
	} else {
		if _, err := forcecal.EnsureSerialPort(configPath, p, configPath != ""); err != nil {
			return nil, nil, err
		}
		var err error
		if dev, err = forcecal.Connect(p); err != nil {
			return nil, nil, err
		}
	}

	sess := forcecal.NewSession(dev.Sensor, forcecal.SessionOptionsFrom(p))
	if err := sess.Start(); err != nil {
		_ = dev.Close()
		return nil, nil, err
	}
	return dev, sess, nil
}

// unload clears the simulated load once a reading is taken, the way the
// operator removes the weight.
func unload(dev *forcecal.Device) {
	dev.ApplyLoad(models.WrenchSample{})
}
