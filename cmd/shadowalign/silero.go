//go:build silero

package main

import (
	"github.com/MrWong99/shadowalign/internal/config"
	"github.com/MrWong99/shadowalign/pkg/vad"
	"github.com/MrWong99/shadowalign/pkg/vad/silero"
)

func init() {
	engineRegistrars = append(engineRegistrars, func(reg *config.Registry) {
		reg.RegisterVAD(silero.EngineName, func(entry config.EngineEntry) (vad.Engine, error) {
			return silero.New(silero.Config{
				ModelPath:   entry.StringOption("model_path"),
				LibraryPath: entry.StringOption("library_path"),
			})
		})
	})
	cleanups = append(cleanups, silero.DestroyRuntime)
}
