package types

// Server represents server status information.
type Server struct {
	Version     string `json:"version" yaml:"version"`
	Driver      string `json:"driver" yaml:"driver"`
	Workers     int    `json:"workers" yaml:"workers"`
	IdleWorkers int    `json:"idle_workers" yaml:"idle_workers"`
	Connections int    `json:"connections" yaml:"connections"`
	Sessions    int    `json:"sessions" yaml:"sessions"`
	Ready       bool   `json:"ready" yaml:"ready"`
}
