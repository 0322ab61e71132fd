//go:build !gohome_without_irobot

package plugins

import (
	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/joshp123/gohome-irobot/internal/core"
	"github.com/joshp123/gohome-irobot/plugins/irobot"
)

func init() {
	Register(func(cfg *config.Config, deps core.Deps) (core.Plugin, bool) {
		plugin, ok := irobot.NewPlugin(cfg.IRobot, deps)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
