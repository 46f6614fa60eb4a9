/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads loghogd's main configuration file: listen
// addresses, TLS material, working/log/run directories, and compressor
// settings. It is the "configuration-file reader" spec.md §1 calls an
// external collaborator supplying parsed records - here adapted to load
// the daemon's own settings with the same gravwell/gcfg fork
// ingesters/SimpleRelay/config.go uses for its own INI-style config.
package config

import (
	"crypto/md5"
	"errors"
	"fmt"
	"os"

	"github.com/gravwell/gcfg"

	"github.com/gravwell/loghogd/internal/compress"
)

// defaultPort and defaultTLSPort back listen addresses that don't specify
// their own port.
const (
	defaultPort    = 7777
	defaultTLSPort = 7778
)

type global struct {
	Listen_IPv4       string
	Listen_IPv6       string
	Listen_IPv4_SSL   string
	Listen_IPv6_SSL   string
	Default_Port      int
	Default_SSL_Port  int
	PEM_File          string
	CA_File           string
	Working_Dir       string
	Log_Dir           string
	Run_Dir           string
	Pid_File          string
	Internal_Log_File string
	Facilities_Config string
	Compression_Format string
	Compression_Level  int
	Compress_On_Write  bool
	Log_Level          string
}

type cfgFile struct {
	Global global
}

// Config is the daemon's fully-validated main configuration.
type Config struct {
	ListenIPv4    string
	ListenIPv6    string
	ListenIPv4SSL string
	ListenIPv6SSL string
	DefaultPort   int
	DefaultTLSPort int

	PEMFile string
	CAFile  string

	WorkingDir       string
	LogDir           string
	RunDir           string
	PidFile          string
	InternalLogFile  string
	FacilitiesConfig string

	CompressionFormat compress.Format
	CompressionLevel  int
	CompressOnWrite   bool

	LogLevel string

	// checksum is the MD5 of the raw file bytes at load time, used by
	// reload to refuse an online SIGHUP reload when the main config file
	// itself has changed on disk (spec.md §5).
	checksum [md5.Size]byte
	path     string
}

// Load reads and validates the main configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cf cfgFile
	if err := gcfg.ReadStringInto(&cf, string(raw)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	c := fromGlobal(cf.Global)
	c.checksum = md5.Sum(raw)
	c.path = path

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func fromGlobal(g global) *Config {
	c := &Config{
		ListenIPv4:         g.Listen_IPv4,
		ListenIPv6:         g.Listen_IPv6,
		ListenIPv4SSL:      g.Listen_IPv4_SSL,
		ListenIPv6SSL:      g.Listen_IPv6_SSL,
		DefaultPort:        g.Default_Port,
		DefaultTLSPort:     g.Default_SSL_Port,
		PEMFile:            g.PEM_File,
		CAFile:             g.CA_File,
		WorkingDir:         g.Working_Dir,
		LogDir:             g.Log_Dir,
		RunDir:             g.Run_Dir,
		PidFile:            g.Pid_File,
		InternalLogFile:    g.Internal_Log_File,
		FacilitiesConfig:   g.Facilities_Config,
		CompressionFormat:  compress.Format(g.Compression_Format),
		CompressionLevel:   g.Compression_Level,
		CompressOnWrite:    g.Compress_On_Write,
		LogLevel:           g.Log_Level,
	}
	if c.DefaultPort == 0 {
		c.DefaultPort = defaultPort
	}
	if c.DefaultTLSPort == 0 {
		c.DefaultTLSPort = defaultTLSPort
	}
	if c.CompressionFormat == "" {
		c.CompressionFormat = compress.Gzip
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	return c
}

// validate enforces the fail-fast startup checks spec.md §4.1/§7 call for:
// TLS listening requires existing PEM/CA files, at least one transport must
// be configured, and working_dir, log_dir and facilities_config must be set.
// The directories themselves are not checked here; EnsureDirs creates them.
func (c *Config) validate() error {
	if c.ListenIPv4 == "" && c.ListenIPv6 == "" && c.ListenIPv4SSL == "" && c.ListenIPv6SSL == "" {
		return errors.New("config: at least one listen address must be configured")
	}
	if c.ListenIPv4SSL != "" || c.ListenIPv6SSL != "" {
		if c.PEMFile == "" || c.CAFile == "" {
			return errors.New("config: TLS listeners configured but pem_file/ca_file are not set")
		}
		if _, err := os.Stat(c.PEMFile); err != nil {
			return fmt.Errorf("config: pem_file %q is not readable: %w", c.PEMFile, err)
		}
		if _, err := os.Stat(c.CAFile); err != nil {
			return fmt.Errorf("config: ca_file %q is not readable: %w", c.CAFile, err)
		}
	}
	if c.WorkingDir == "" {
		return errors.New("config: working_dir is required")
	}
	if c.LogDir == "" {
		return errors.New("config: log_dir is required")
	}
	if c.FacilitiesConfig == "" {
		return errors.New("config: facilities_config is required")
	}
	return nil
}

// Unchanged reports whether the file at c.path still hashes to the
// checksum recorded at load time - the gate SIGHUP reload uses to refuse
// an online facilities reload after the main config itself changed
// (spec.md §5).
func (c *Config) Unchanged() (bool, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return false, err
	}
	return md5.Sum(raw) == c.checksum, nil
}

// EnsureDirs creates the working, log, and run directories if they don't
// already exist (plain filesystem setup, in scope per spec.md §1 even
// though daemonization itself is not).
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.WorkingDir, c.LogDir, c.RunDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
