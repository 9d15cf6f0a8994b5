// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and SNIPPETBOX_* environment variables. It
// covers server transport settings, snippet execution limits, the location of
// the trust boundary policy, and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Default timeout: %s\n", cfg.GetTimeout())
package config
