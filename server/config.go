// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"time"

	"github.com/imdario/mergo"
	"github.com/patrickascher/dotorm/auth"
	"github.com/patrickascher/dotorm/config"
	"github.com/patrickascher/dotorm/config/viper"
	"github.com/patrickascher/dotorm/query"
)

// Configuration of the webserver.
// This configuration can be simple embedded in your application config.
type Configuration struct {
	Database query.Config
	Server   serverConfig
	Token    auth.TokenConfig
	Cache    cacheConfiguration
	Logger   loggerConfiguration
}

type serverConfig struct {
	Domain   string
	HTTPPort int
	CORS     corsConfiguration
}

type corsConfiguration struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

type cacheConfiguration struct {
	Provider   string
	GCInterval int
}

type loggerConfiguration struct {
	Provider string
	Level    string
}

// defaultConfiguration the file may only override partially.
func defaultConfiguration() Configuration {
	return Configuration{
		Server: serverConfig{
			HTTPPort: 8080,
			CORS: corsConfiguration{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
		},
		Token: auth.TokenConfig{
			Alg:        auth.HS256,
			Issuer:     "dotorm",
			Expiration: 15 * time.Minute,
		},
		Cache:  cacheConfiguration{Provider: "memory", GCInterval: 300},
		Logger: loggerConfiguration{Provider: "logrus", Level: "info"},
	}
}

// LoadConfig parses the configuration file and merges the defaults into the
// missing fields.
func LoadConfig(file string, path string) (Configuration, error) {
	cfg := Configuration{}
	err := config.Load(config.VIPER, &cfg, viper.Options{FileName: file, FilePath: path})
	if err != nil {
		return Configuration{}, err
	}
	if err = mergo.Merge(&cfg, defaultConfiguration()); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}
