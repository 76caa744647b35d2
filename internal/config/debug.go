package config

import "os"

func IsDebug() bool {
	return os.Getenv("PERCEPT_DEBUG") == "1"
}
