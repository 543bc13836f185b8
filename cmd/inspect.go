package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightshowd/lightshowd/midi"
	"github.com/lightshowd/lightshowd/pairing"
	"github.com/lightshowd/lightshowd/tempomap"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [midi file]",
	Short: "Inspects a MIDI file's tempo map and paired notes",
	Long:  "Inspects a MIDI file's tempo map and paired notes",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			panic("Need 1 arg...")
		}
		inspect(args[0])
	},
}

func inspect(path string) {
	mf, err := midi.ReadMidiFile(path)
	if err != nil {
		panic(err)
	}
	events, division := midi.ExtractEvents(mf)
	table := tempomap.Build(midi.TempoEvents(events), division, midi.DefaultBPM)

	fmt.Printf("division: %v\n", division)
	for _, entry := range table.Entries() {
		fmt.Printf("tempo entry: tick=%v bpm=%v tickMs=%.4f startMs=%.2f\n",
			entry.Tick, entry.BPM, entry.TickMs, entry.StartMs)
	}
	for _, p := range pairing.ComputeNoteDurations(events, table) {
		fmt.Printf("note: tick=%v name=%v numbers=%v lengthTicks=%v lengthMs=%v\n",
			p.Tick, p.NoteName, p.NoteNumbers(), p.LengthTicks, p.LengthMs)
	}
}
