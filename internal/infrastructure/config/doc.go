// Package config loads and validates Hearth Core configuration.
//
// Configuration is read from a YAML file, then overridden by HEARTH_*
// environment variables. Secrets (broker credentials, database
// password, TTS API key) should come from the environment rather than
// the file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
