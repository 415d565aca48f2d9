package main

import (
	"flag"
	"fmt"

	"pipelined.dev/pcmfeed/portaudio"
)

type devicesCommand struct{}

func (cmd *devicesCommand) Name() string {
	return "devices"
}

func (cmd *devicesCommand) Help() string {
	return "Show the list of portaudio output devices"
}

func (cmd *devicesCommand) Register(*flag.FlagSet) {}

func (cmd *devicesCommand) Run() error {
	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	fmt.Println("Output devices:")
	for _, d := range devices {
		fmt.Printf("\t%s\t%d channels\t%vHz\t%v latency\n", d.Name, d.MaxOutputChannels, d.DefaultSampleRate, d.DefaultLowOutputLatency)
	}
	return nil
}
