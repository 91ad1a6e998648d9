// Package config loads the solace-gateway YAML configuration.
//
// Values of the form ${VAR} are replaced with environment variables before
// parsing, so secrets stay out of the file:
//
//	vendor:
//	  app_id: "${ZEGO_APP_ID}"
//	  server_secret: "${ZEGO_SERVER_SECRET}"
//
// Durations are written as Go duration strings ("30s", "1500ms") and every
// field not present in the file keeps the value from Default.
package config
