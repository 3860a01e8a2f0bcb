package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"camrand/internal/shared/types"
)

// LoadIni loads the camrand.ini behaviour configuration file and applies
// the built-in defaults for anything the file leaves unset.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.LocalConf.WebPort, "CAMRAND_WEB_PORT")
	overrideFromEnvInt(&cfg.FetchConf.Concurrency, "CAMRAND_FETCH_CONCURRENCY")
	cfg.ApplyDefaults()
	return nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
