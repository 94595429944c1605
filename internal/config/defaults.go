package config

// Disabled as an output file name turns that artifact off.
const Disabled = "none"

// DefaultSampleSize is the number of tracks compared when the config does not say.
const DefaultSampleSize = 50

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Input.Path == "" {
		cfg.Input.Path = "./demos/association.json"
	}
	if cfg.Input.TwoPass == nil {
		t := true
		cfg.Input.TwoPass = &t
	}
	if cfg.Sampling.SampleSize == nil {
		k := DefaultSampleSize
		cfg.Sampling.SampleSize = &k
	}
	if cfg.Similarity.Workers == 0 {
		cfg.Similarity.Workers = 1
	}
	if cfg.Histogram.Bins == 0 {
		cfg.Histogram.Bins = 20
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "./output"
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = "create"
	}
	if cfg.Output.IntraFile == "" {
		cfg.Output.IntraFile = "intra_similarities.npy"
	}
	if cfg.Output.InterFile == "" {
		cfg.Output.InterFile = "inter_similarities.npy"
	}
	if cfg.Output.Catalog == "" {
		cfg.Output.Catalog = "catalog.db"
	}
	if cfg.Output.HistogramJSON == "" {
		cfg.Output.HistogramJSON = "histograms.json"
	}
	if cfg.Output.HistogramXLSX == "" {
		cfg.Output.HistogramXLSX = "histograms.xlsx"
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ChunkCache == 0 {
		cfg.Server.ChunkCache = 256
	}
}
