package main

import (
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Name           string   `yaml:"name" env:"OFFLINE_CACHE_NAME"`
	Version        string   `yaml:"version" env:"OFFLINE_CACHE_VERSION"`
	Origin         string   `yaml:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	Manifest       []string `yaml:"manifest" env:"OFFLINE_CACHE_MANIFEST"`
	Revalidate     []string `yaml:"revalidate" env:"OFFLINE_CACHE_REVALIDATE"`
	Bypass         []string `yaml:"bypass" env:"OFFLINE_CACHE_BYPASS"`
	WaitForClients bool     `yaml:"waitForClients" env:"OFFLINE_CACHE_WAIT_FOR_CLIENTS"`
}

func defaultConfig() Config {
	return Config{
		Name:    "ai-culinary-companion",
		Version: "v2",
		Manifest: []string{
			"/",
			"/index.html",
			"/index.tsx",
			"/App.tsx",
			"/logo.svg",
			"/manifest.json",
		},
		Revalidate: []string{
			"https://cdn.tailwindcss.com",
			"https://unpkg.com",
			"https://accounts.google.com",
			"https://esm.sh",
		},
		// responses of the AI service are dynamic per conversation
		Bypass: []string{
			"https://generativelanguage.googleapis.com",
		},
	}
}

// getConfig returns the default config, overridden by the config file (if any)
// and then by environment variables.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, err
		}
	}
	err := env.Parse(&config)
	return config, err
}
