// Package config loads and validates Gray Logic OTA configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Registry API keys, broker passwords and the JWT secret should be set
//     via environment variables rather than committed to the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Firmware.RegistryURL)
package config
