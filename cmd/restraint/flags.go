package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
}

type BlackoutFlags struct {
	Duration time.Duration
	Locked   bool
}

type ScheduleFlags struct {
	Name    string
	Days    []int
	Start   string
	End     string
	Enabled bool
}

type BlockFlags struct {
	Preset string
}
