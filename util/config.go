package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const Name = "solipub"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host       string
		HttpPort   int    `yaml:"httpPort"`
		BaseUrl    string `yaml:"baseUrl"`
		Proxy      bool   `yaml:"proxy"`
		AuthSecret string `yaml:"authSecret"`
		PodToken   string `yaml:"podToken"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("SOLIPUB_HOST")
	envHttpPort := os.Getenv("SOLIPUB_HTTPPORT")
	envBaseUrl := os.Getenv("SOLIPUB_BASEURL")
	envProxy := os.Getenv("SOLIPUB_PROXY")
	envAuthSecret := os.Getenv("SOLIPUB_AUTHSECRET")
	envPodToken := os.Getenv("SOLIPUB_PODTOKEN")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envBaseUrl != "" {
		c.Conf.BaseUrl = envBaseUrl
	}

	if envProxy == "true" {
		c.Conf.Proxy = true
	}

	if envAuthSecret != "" {
		c.Conf.AuthSecret = envAuthSecret
	}

	if envPodToken != "" {
		c.Conf.PodToken = envPodToken
	}

	if c.Conf.BaseUrl == "" {
		c.Conf.BaseUrl = fmt.Sprintf("http://localhost:%d", c.Conf.HttpPort)
	}

	// The engine joins collection paths onto the base URL, a trailing
	// slash would double up.
	c.Conf.BaseUrl = strings.TrimSuffix(c.Conf.BaseUrl, "/")

	return c, nil
}
