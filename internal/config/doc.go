// Package config loads the environment configuration of the liestudio
// commands. Variables are prefixed LIESTUDIO_ and may come from a .env file.
package config
