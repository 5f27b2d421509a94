package script

import (
	"fmt"
	"time"
)

// Security levels restrict what scripts may reach.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config configures script execution.
type Config struct {
	// Timeout bounds a single run. Zero means 5s.
	Timeout time.Duration

	// SecurityLevel defines sandbox restrictions (strict, standard, permissive).
	SecurityLevel string

	// MaxStackDepth is the maximum JavaScript call stack depth.
	MaxStackDepth int

	Pool PoolConfig
}

// PoolConfig defines the configuration of the VM pool.
type PoolConfig struct {
	MinSize       int // VMs created up front
	MaxSize       int // VMs alive at once
	MaxReuseCount int // runs before a VM is recreated
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
	if c.MaxStackDepth == 0 {
		c.MaxStackDepth = 100
	}
	if c.Pool.MinSize < 0 {
		c.Pool.MinSize = 0
	}
	if c.Pool.MaxSize <= 0 {
		c.Pool.MaxSize = 16
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		c.Pool.MinSize = c.Pool.MaxSize
	}
	if c.Pool.MaxReuseCount <= 0 {
		c.Pool.MaxReuseCount = 1000
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SecurityLevel != SecurityLevelStrict &&
		c.SecurityLevel != SecurityLevelStandard &&
		c.SecurityLevel != SecurityLevelPermissive {
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
	if c.MaxStackDepth <= 0 {
		return fmt.Errorf("max stack depth must be positive")
	}
	return nil
}
