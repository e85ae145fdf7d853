// Package config loads bilisub settings from YAML, .env files and
// BILISUB_* environment variables, in that order of precedence, lowest
// first.
package config
