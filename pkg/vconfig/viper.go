package vconfig

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/voluta-fs/voluta/pkg/elog"
)

const configFileName = "voluta"

// InitViper wires viper to read a voluta config file, the same
// explicit-path-else-home-directory search vconvert's initConfig uses,
// falling back silently to WithDefaults if nothing is found.
func InitViper(cfgFile string, logger elog.View) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := homedir.Dir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else {
		logger.Debugf("no config file found, using defaults: %v", err)
	}
}

// FromViper builds a Config from whatever viper has loaded (config file,
// environment, and any bound flags), applying defaults for anything left
// unset.
func FromViper(logger elog.View) (*Config, error) {
	c := new(Config)
	if err := viper.Unmarshal(c); err != nil {
		return nil, err
	}
	if err := WithDefaults(c, logger); err != nil {
		return nil, err
	}
	return c, nil
}
