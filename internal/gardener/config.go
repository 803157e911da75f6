package gardener

// Config exposes the gardener's tunables: the cluster size floor for NREM
// fusion and the utility-score archival knobs.
type Config struct {
	MinClusterSize     int
	ArchivalThreshold  float64
	ArchivalMinAgeDays int
	ArchivalMaxPerRun  int
}

// DefaultConfig returns conservative defaults for a single-operator deployment.
func DefaultConfig() Config {
	return Config{
		MinClusterSize:     2,
		ArchivalThreshold:  archivalUtilityThreshold,
		ArchivalMinAgeDays: archivalMinAgeDays,
		ArchivalMaxPerRun:  archivalMaxPerRun,
	}
}

// WithConfig overrides the gardener's tunables. Call before Start.
func (g *Gardener) WithConfig(cfg Config) *Gardener {
	g.config = cfg
	return g
}
