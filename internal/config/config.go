// Package config loads the server and client configuration surfaces
// ({port, log_path, max_task_num, max_pool_size} for the server;
// {host, port} for the client) through three layered koanf providers:
// built-in defaults, an optional YAML file, and command line flags.
package config

import (
	"errors"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

// ServerConfig is the typed view of a server's {port, log_path,
// max_task_num, max_pool_size, idle_timeout_sec, use_poll, mode,
// work_dir}. mode selects which external collaborator the reactor's READ
// callback is wired to: "rpc" (default, sentinel-framed JSON-RPC) or
// "http" (HTTP/1.0 + CGI, serving static files out of work_dir).
type ServerConfig struct {
	Port           int    `koanf:"port"`
	LogPath        string `koanf:"log_path"`
	MaxTaskNum     int    `koanf:"max_task_num"`
	MaxPoolSize    int    `koanf:"max_pool_size"`
	IdleTimeoutSec int    `koanf:"idle_timeout_sec"`
	UsePoll        bool   `koanf:"use_poll"`
	Mode           string `koanf:"mode"`
	WorkDir        string `koanf:"work_dir"`
}

// ClientConfig is the typed view of a client's {host, port}.
type ClientConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

var serverDefaults = map[string]interface{}{
	"port":             9000,
	"log_path":         "./logs",
	"max_task_num":     100,
	"max_pool_size":    16,
	"idle_timeout_sec": 60,
	"use_poll":         false,
	"mode":             "rpc",
	"work_dir":         "./www",
}

var clientDefaults = map[string]interface{}{
	"host": "127.0.0.1",
	"port": 9000,
}

// LoadServer layers serverDefaults, then the optional YAML file at path
// (silently skipped if it does not exist), then flags, and unmarshals
// the result into a ServerConfig. flags may be nil, in which case only
// defaults and file are consulted -- useful for tests.
func LoadServer(path string, flags *flag.FlagSet) (ServerConfig, error) {
	var cfg ServerConfig
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(serverDefaults, "."), nil); err != nil {
		return cfg, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !isMissingFile(err) {
				return cfg, err
			}
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, err
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadClient mirrors LoadServer for the client's smaller surface.
func LoadClient(path string, flags *flag.FlagSet) (ClientConfig, error) {
	var cfg ClientConfig
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(clientDefaults, "."), nil); err != nil {
		return cfg, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !isMissingFile(err) {
				return cfg, err
			}
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, err
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ServerFlagSet declares the CLI surface a jrserver binary exposes.
func ServerFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("jrserver", flag.ContinueOnError)
	fs.Int("port", serverDefaults["port"].(int), "listening port")
	fs.String("log_path", serverDefaults["log_path"].(string), "directory for the three per-process log files")
	fs.Int("max_task_num", serverDefaults["max_task_num"].(int), "worker pool queue capacity")
	fs.Int("max_pool_size", serverDefaults["max_pool_size"].(int), "worker pool thread count")
	fs.Int("idle_timeout_sec", serverDefaults["idle_timeout_sec"].(int), "idle connection timeout, in seconds")
	fs.Bool("use_poll", serverDefaults["use_poll"].(bool), "force the portable poll back-end instead of epoll")
	fs.String("mode", serverDefaults["mode"].(string), `"rpc" (sentinel-framed JSON-RPC) or "http" (HTTP/1.0 + CGI)`)
	fs.String("work_dir", serverDefaults["work_dir"].(string), "static file root and CGI script directory for http mode")
	return fs
}

// ClientFlagSet declares the CLI surface a jrclient binary exposes.
func ClientFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("jrclient", flag.ContinueOnError)
	fs.String("host", clientDefaults["host"].(string), "server host")
	fs.Int("port", clientDefaults["port"].(int), "server port")
	return fs
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
