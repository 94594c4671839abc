package session

import (
	"memhunt/config"
	"memhunt/freeze"
	"memhunt/scan"
)

// OptionsFromConfig translates the [scan], [freeze] and [refresh] settings
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	categories, err := cfg.Categories()
	if err != nil {
		return nil, err
	}
	t, err := cfg.ValueType()
	if err != nil {
		return nil, err
	}

	return []Option{
		WithEngineOptions(scan.WithChunkSize(cfg.Scan.ChunkSize), scan.WithWorkers(cfg.Scan.Workers)),
		WithFreezeOptions(freeze.WithMaxFailures(cfg.Freeze.MaxFailures), freeze.WithDefaultInterval(cfg.FreezeInterval())),
		WithFreezeInterval(cfg.FreezeInterval()),
		WithRegions(categories, cfg.Scan.CustomFilter),
		WithValueType(t),
		WithMaxRefresh(cfg.Refresh.MaxRefresh),
	}, nil
}

// ApplyConfig updates the settings that may change while attached: region
// selection and the refresh limit. The value type follows the config only
// while it is not locked by a scan.
func (s *Session) ApplyConfig(cfg *config.Config) error {
	categories, err := cfg.Categories()
	if err != nil {
		return err
	}
	t, err := cfg.ValueType()
	if err != nil {
		return err
	}

	s.SetRegions(categories, cfg.Scan.CustomFilter)
	s.SetMaxRefresh(cfg.Refresh.MaxRefresh)
	if err := s.SetValueType(t); err != nil {
		s.log.Debugln("Keeping value type", s.ValueType(), "until reset")
	}
	return nil
}
