// Package config handles loading and validating HomeLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HOMELINK_* environment variables
//   - Validation of required fields per store backend
//   - Default value handling
//
// Sensitive values (JWT secret, broker and database passwords) should be
// supplied through the environment rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Store.Backend)
package config
