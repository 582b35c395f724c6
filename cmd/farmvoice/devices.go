package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bromscandium/BioGrow/adapters/audio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Long:  "Lists the microphones PortAudio can open. Use the index as client.input_device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.ListInputDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No input devices found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tCHANNELS\tRATE")
			fmt.Fprintf(w, "%d\tsystem default\t-\t-\n", audio.DefaultDevice)
			for _, device := range devices {
				fmt.Fprintf(w, "%d\t%s\t%d\t%.0f\n", device.Index, device.Name, device.MaxInputChannels, device.DefaultSampleRate)
			}
			return w.Flush()
		},
	}
}
