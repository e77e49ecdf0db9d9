// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files, a .env file and EXECENGINE_* environment
// variables. It covers server transports, execution engine limits, logging
// and per-language image overrides.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox root: %s\n", cfg.Sandbox.RootDir)
package config
