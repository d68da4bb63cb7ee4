package config

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Prefs persists the local media preferences (muted/deafened) so they
// survive restarts and are re-applied on the next join.
type Prefs struct {
	mu   sync.Mutex
	path string
	v    *viper.Viper
}

func NewPrefs(path string) *Prefs {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("muted", false)
	v.SetDefault("deafened", false)
	if err := v.ReadInConfig(); err != nil {
		log.Debug().Str("module", "config").Str("file", path).Msg("no saved prefs, using defaults")
	}
	return &Prefs{path: path, v: v}
}

func (p *Prefs) Load() (muted, deafened bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetBool("muted"), p.v.GetBool("deafened")
}

func (p *Prefs) Save(muted, deafened bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set("muted", muted)
	p.v.Set("deafened", deafened)
	if err := p.v.WriteConfigAs(p.path); err != nil {
		log.Error().Err(err).Str("module", "config").Msg("failed to persist prefs")
	}
}
