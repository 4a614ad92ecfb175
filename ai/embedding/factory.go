package embedding

// New builds the configured provider (remote API or local model) wrapped in
// the memoization cache. Selection is static: changing the provider requires
// recreating the pipelines built on top of it.
func New(cfg *Config) (*CachedProvider, error) {
	var (
		inner Provider
		err   error
	)
	if cfg.Provider == "local" {
		inner, err = NewLocal(cfg)
	} else {
		inner, err = NewRemote(cfg)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(inner, cfg.CacheSize), nil
}
