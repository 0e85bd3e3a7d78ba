package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bitbucket struct {
		BaseURL     string        `yaml:"base_url"`
		Username    string        `yaml:"username"`
		AppPassword string        `yaml:"app_password"`
		AccessToken string        `yaml:"access_token"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"bitbucket"`

	Poll struct {
		Interval  time.Duration `yaml:"interval"`
		PauseFile string        `yaml:"pause_file"`
	} `yaml:"poll"`

	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`
}

// Load reads the optional YAML file, then applies environment overrides and
// defaults. Credentials must come from one of the two supported pairs.
func Load(path string) (Config, error) {
	var c Config

	c.Bitbucket.BaseURL = "https://api.bitbucket.org/2.0"
	c.Bitbucket.Timeout = 5 * time.Second
	c.Poll.Interval = 10 * time.Second
	c.Cache.Path = expandHome("~/.cache/bitbucket_pipeline.json")

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}

	if v := os.Getenv("BITBUCKET_BASE_URL"); v != "" {
		c.Bitbucket.BaseURL = v
	}

	if v := os.Getenv("BITBUCKET_USERNAME"); v != "" {
		c.Bitbucket.Username = v
	}

	if v := os.Getenv("BITBUCKET_APP_PASSWORD"); v != "" {
		c.Bitbucket.AppPassword = v
	}

	if v := os.Getenv("BITBUCKET_ACCESS_TOKEN"); v != "" {
		c.Bitbucket.AccessToken = v
	}

	if v := os.Getenv("BITBUCKET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bitbucket.Timeout = d
		}
	}

	if v := os.Getenv("INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poll.Interval = d
		}
	}

	if v := os.Getenv("CACHE_PATH"); v != "" {
		c.Cache.Path = expandHome(v)
	}

	c.Cache.Path = expandHome(c.Cache.Path)

	if c.Bitbucket.BaseURL == "" {
		c.Bitbucket.BaseURL = "https://api.bitbucket.org/2.0"
	}

	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 10 * time.Second
	}

	if c.Bitbucket.Timeout <= 0 {
		c.Bitbucket.Timeout = 5 * time.Second
	}

	if c.Poll.PauseFile == "" {
		c.Poll.PauseFile = expandHome("~/.cache/bitbucket_pipeline_paused")
	}
	c.Poll.PauseFile = expandHome(c.Poll.PauseFile)

	hasBasic := c.Bitbucket.Username != "" && c.Bitbucket.AppPassword != ""
	if !hasBasic && c.Bitbucket.AccessToken == "" {
		return c, errors.New("missing Bitbucket credentials: set BITBUCKET_USERNAME and BITBUCKET_APP_PASSWORD, or BITBUCKET_ACCESS_TOKEN")
	}

	return c, nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
