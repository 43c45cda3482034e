package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config carries the endpoints the client talks to. Values come from the
// environment (optionally a .env file), with defaults matching a local
// devserver.
type Config struct {
	APIBaseURL string
	HubURL     string
	Debug      bool
}

func Load() Config {
	_ = godotenv.Load() // missing .env is fine

	api := getenv("TICTAC_API_URL", "http://localhost:50910")
	hub := os.Getenv("TICTAC_HUB_URL")
	if hub == "" {
		hub = api + "/hubs/game"
	}
	return Config{
		APIBaseURL: api,
		HubURL:     hub,
		Debug:      os.Getenv("TICTAC_DEBUG") != "",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
