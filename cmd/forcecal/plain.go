package main

import (
	"context"
	"fmt"

	"github.com/CK6170/forcecal-go/forcecal"
	"github.com/CK6170/forcecal-go/models"
	"github.com/CK6170/forcecal-go/ui"
)

func printMenu() {
	fmt.Println("1) Enter applied force (fx, fy, fz) and length (x, y, z)")
	fmt.Println("2) Take corresponding sensor readings")
	fmt.Println("3) Compute calibration matrix")
	fmt.Println("4) Write results to file")
	fmt.Println("5) Exit")
	fmt.Println("Select Option: ")
}

// runPlain is the single-key console loop.
func runPlain(ctx context.Context, dev *forcecal.Device, sess *forcecal.Session) error {
	keys := ui.StartKeyEvents()
	defer ui.StopKeyEvents()
	ui.ClearScreen()
	ui.Greenf("Ready (%s, %s)\n", dev.Name, dev.Version)

	for {
		ui.DrainKeys()
		printMenu()
		var r rune
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			r = k
		}

		switch r {
		case '1':
			plainWrench(ctx, dev, sess)
		case '2':
			plainReading(ctx, dev, sess, keys)
		case '3':
			fmt.Printf("The number of groups of measurements used to calculate the calibration matrix = %d\n", sess.Count())
			res, err := sess.Solve(ctx)
			if err != nil {
				ui.Errorf("%v\n", err)
				continue
			}
			fmt.Print(forcecal.FormatMatrix(*res.Matrix))
			fmt.Print(res.Report.String())
			if res.Report.Deficient() {
				ui.Warningf("Fewer than %d independent measurement groups: the matrix is not fully determined.\n", forcecal.MinWellPosedSamples)
			}
		case '4':
			res, err := sess.Export(ctx, "")
			if err != nil {
				ui.Errorf("%v\n", err)
				continue
			}
			ui.Greenf("Results written to %s\n", res.Path)
		case '5', ui.KeyEsc:
			fmt.Println("Exiting..")
			_, err := sess.Quit(ctx)
			return err
		}
	}
}

func plainWrench(ctx context.Context, dev *forcecal.Device, sess *forcecal.Session) {
	if _, err := sess.BeginWrench(ctx); err != nil {
		ui.Errorf("%v\n", err)
		return
	}
	fmt.Println("Please put the specified weight at the location you chose")
	force, ok := ui.ReadFloats("Please specify the force (N) used to calculate the calibration matrix: ", 3)
	if !ok {
		ui.Warningf("Force entry cancelled\n")
		return
	}
	pos, ok := ui.ReadFloats("Please specify the position of the applied force: ", 3)
	if !ok {
		ui.Warningf("Force entry cancelled\n")
		return
	}
	w := models.WrenchSample{force[0], force[1], force[2], pos[0], pos[1], pos[2]}
	if _, err := sess.SubmitWrench(ctx, w); err != nil {
		ui.Errorf("%v\n", err)
		return
	}
	dev.ApplyLoad(w)
	f, p := w.Force(), w.Position()
	fmt.Printf("Input force = %g %g %g\n", f.X, f.Y, f.Z)
	fmt.Printf("Location of force = %g %g %g\n", p.X, p.Y, p.Z)
}

// plainReading averages the sensor. Esc cancels while it runs.
func plainReading(ctx context.Context, dev *forcecal.Device, sess *forcecal.Session, keys <-chan rune) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case k, ok := <-keys:
				if !ok || k == ui.KeyEsc {
					cancel()
					return
				}
			}
		}
	}()

	res, err := sess.RecordReading(opCtx, func(u forcecal.SampleUpdate) {
		if u.Phase == forcecal.SamplePhaseAveraging {
			fmt.Printf("\rAveraging %d/%d  % 10.4f % 10.4f % 10.4f", u.AvgDone, u.AvgTarget, u.Current.X, u.Current.Y, u.Current.Z)
		}
	})
	close(done)
	fmt.Println()
	if err != nil {
		ui.Errorf("%v\n", err)
		return
	}
	unload(dev)
	fmt.Printf("Sensor readings = %s\n", res.Reading)
	fmt.Println("Please remove the weight from the sensor")
}
