// Package config provides layered configuration for the VendDesk process.
//
// Configuration is assembled from three sources, lowest precedence first:
//
//  1. Compiled-in defaults (Default)
//  2. An optional venddesk.yaml file next to the working directory or the
//     executable
//  3. Environment variables (HUB_BASE_URL, LICENSING_ENFORCED,
//     OFFLINE_GRACE_DAYS, RENEW_INTERVAL_HOURS, LICENSE_PUBLIC_KEY_PEM,
//     TENANT_ID, DEVICE_ID, and the server/logging/storage knobs)
//
// The merged configuration is validated once at load time; components
// receive their sub-configuration by value and never re-read the
// environment.
package config
