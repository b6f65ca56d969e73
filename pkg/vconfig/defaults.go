package vconfig

import "github.com/voluta-fs/voluta/pkg/elog"

// WithDefaults fills in zero-valued fields the same way VCFG's
// WithDefaults seeds a build with a default NIC and RAM size.
func WithDefaults(c *Config, logger elog.View) error {
	if c.Log.Level == "" {
		logger.Debugf("using default log level (info)")
		c.Log.Level = LogInfo
	}
	if err := c.Log.Level.Validate(); err != nil {
		return err
	}

	if c.Cache.VNodeEntries == 0 {
		logger.Debugf("using default vnode cache size (4096 entries)")
		c.Cache.VNodeEntries = 4096
	}
	if c.Cache.MaxDirtyPct == 0 {
		c.Cache.MaxDirtyPct = 25
	}
	if c.Cache.BlockBudget == 0 {
		logger.Debugf("using default block cache budget (64 Mi)")
		c.Cache.BlockBudget = 64 * MiB
	}

	if c.Backing.Type == "" {
		logger.Debugf("using default backing type (file)")
		c.Backing.Type = BackingFile
	}

	return nil
}
