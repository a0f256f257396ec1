package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agrid-Dev/easycontrols/internal/catalog"
	"github.com/Agrid-Dev/easycontrols/internal/controls"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/party"
	"github.com/Agrid-Dev/easycontrols/internal/simulator"
	"github.com/Agrid-Dev/easycontrols/internal/ventilation"
)

// PartyCommand starts a party at Minute, or stops it when Speed is off.
type PartyCommand struct {
	Minute   int
	Speed    ventilation.Stage
	Duration time.Duration
}

// SimulatePartyTimeline drives a simulated unit minute by minute through
// commands and records the fan stage it reports.
func SimulatePartyTimeline(minutes int, filename string, commands []PartyCommand) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state, err := simulator.LoadState("")
	if err != nil {
		return err
	}
	dev, err := simulator.New(state, zerolog.Nop())
	if err != nil {
		return err
	}
	addr, err := freeAddr()
	if err != nil {
		return err
	}
	if err := dev.Listen(addr); err != nil {
		return err
	}
	defer dev.Close()

	client, err := modbusclient.New(modbusclient.Config{Addr: addr}, zerolog.Nop())
	if err != nil {
		return err
	}
	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("failed to connect to simulator: %v", err)
	}
	defer client.Close()

	ctl := controls.New(client, catalog.Default(), "timeline", zerolog.Nop())
	// Simulated minutes, advanced once per row.
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	machine := party.New(ctl, func() time.Time { return clock }, zerolog.Nop())

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Minute", "FanStage", "PartyActive", "RemainingMinutes", "SavedStage"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for i := range minutes {
		for _, cmd := range commands {
			if cmd.Minute != i {
				continue
			}
			if cmd.Speed == ventilation.StageOff {
				err = machine.Stop(ctx)
			} else {
				err = machine.Start(ctx, cmd.Speed, cmd.Duration)
			}
			if err != nil {
				return fmt.Errorf("minute %d: %v", i, err)
			}
		}

		stage, err := ctl.FanStage(ctx)
		if err != nil {
			return fmt.Errorf("minute %d: read fan stage: %v", i, err)
		}
		st := machine.State()
		if err := writer.Write([]string{
			strconv.Itoa(i),
			stage.String(),
			strconv.FormatBool(st.Active),
			fmt.Sprintf("%.0f", st.Remaining.Minutes()),
			st.Saved.String(),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}

		clock = clock.Add(time.Minute)
		if err := machine.Tick(ctx); err != nil {
			return fmt.Errorf("minute %d: %v", i, err)
		}
	}
	return nil
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func main() {
	commands := []PartyCommand{
		{Minute: 10, Speed: ventilation.StageMaximum, Duration: 30 * time.Minute},
		{Minute: 25, Speed: ventilation.StageIntensive, Duration: 20 * time.Minute},
		{Minute: 90, Speed: ventilation.StageIntensive, Duration: 60 * time.Minute},
		{Minute: 100, Speed: ventilation.StageOff},
	}
	if err := SimulatePartyTimeline(120, "party_timeline.csv", commands); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
