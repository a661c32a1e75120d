package main

import (
	"github.com/user/expmirror/internal/config"
	"github.com/user/expmirror/pkg/tracking/rest"
)

func newClient(e config.Endpoint) *rest.Client {
	return rest.New(rest.Config{
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey,
		RateLimit: e.RateLimit,
		Burst:     e.Burst,
	})
}

// sourceClient connects to the platform data is read from.
func sourceClient(cfg *config.Config) *rest.Client {
	return newClient(cfg.Source)
}

// destinationClient connects to the platform data is written to.
func destinationClient(cfg *config.Config) *rest.Client {
	return newClient(cfg.DestinationEndpoint())
}

func workers(flag int, cfg *config.Config) int {
	if flag > 0 {
		return flag
	}
	return cfg.Workers
}
