// Package config loads the shopmgr configuration.
//
// # Sources
//
// Values are applied in this order, later sources winning:
//
//  1. Default()
//  2. a YAML file (config.yaml next to the executable, in configs/, or the
//     path given to Load)
//  3. environment variables prefixed with SHOP_
//
// The merged result is checked with struct tags from
// github.com/go-playground/validator/v10.
//
// # Environment Variables
//
// Variable names follow the struct layout:
//
//	SHOP_SERVER_PORT=8080
//	SHOP_LOGGING_LEVEL=debug
//	SHOP_STORAGE_DRIVER=sqlite
//	SHOP_STORAGE_DB_PATH=/var/lib/shopmgr/shop.db
//	SHOP_STORAGE_SEAL=true
//	SHOP_DEVICE_SOURCE=machineid
//	SHOP_TRIAL_DAYS=7
//	SHOP_PUSH_INTERVAL=60s
//
// # Paths
//
// Relative directories are resolved against the executable directory, never
// the working directory, so the application behaves the same however it is
// launched. See GetPaths.
package config
