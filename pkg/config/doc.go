/*
Package config loads midden's runtime configuration: a YAML file
declaring the cache volumes, archive location, and worker tuning,
with MIDDEN_* environment variables layered on top. Volume capacities
accept human-readable sizes such as "20GB".
*/
package config
