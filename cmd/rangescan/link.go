package main

import (
	"github.com/spf13/pflag"

	"github.com/banshee-data/rangescan/internal/config"
	"github.com/banshee-data/rangescan/internal/rplidar"
	"github.com/banshee-data/rangescan/internal/serialport"
)

// linkFlags are the sensor connection flags shared by diag and record.
type linkFlags struct {
	port     string
	baud     int
	simulate bool
}

func (l *linkFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&l.port, "port", config.DefaultPort, "serial device of the sensor")
	fs.IntVar(&l.baud, "baud", serialport.DefaultBaudRate, "serial baud rate")
	fs.BoolVar(&l.simulate, "simulate", false, "talk to a simulated sensor instead of the serial port")
}

// apply copies explicitly set flags over the config.
func (l *linkFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("port") {
		cfg.Port = &l.port
	}
	if fs.Changed("baud") {
		cfg.BaudRate = &l.baud
	}
}

// liveSource builds the RPLIDAR source described by the config. With
// simulate set the serial port is replaced by an in-process simulator.
func (a *app) liveSource(simulate bool) *rplidar.Source {
	src := &rplidar.Source{
		Path:     a.cfg.GetPort(),
		Options:  a.cfg.SerialOptions(),
		MotorPWM: a.cfg.GetMotorPWM(),
	}
	if simulate {
		sim := rplidar.NewSimPort()
		sim.SweepInterval = a.simInterval
		src.Path = "sim"
		src.Opener = sim.Opener()
	}
	return src
}
