package jsontemplate

import "os"

// EnvPrefix is prepended to a parameter name to find its environment
// variable.
const EnvPrefix = "RANGEMERGE_PARAM_"

// Params hold eagerly loaded parameters for JSON templates and falls back to
// environment variables.
type Params struct {
	params map[string]string
}

func NewParams() *Params {
	return &Params{
		params: make(map[string]string),
	}
}

func (pl *Params) Set(key, value string) {
	pl.params[key] = value
}

// Get retrieves key's value from the params map, falling back to an
// environment variable.
func (pl *Params) Get(key string) (string, bool) {
	if pl != nil {
		if value, exists := pl.params[key]; exists {
			return value, true
		}
	}

	value := os.Getenv(EnvPrefix + key)
	if value != "" {
		return value, true
	}

	return "", false
}
