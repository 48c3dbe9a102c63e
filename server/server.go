// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server boots the application: configuration, logger, cache, database
// pool, model registration, announced extensions, schema migration and the REST
// routers behind the JWT guard.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickascher/dotorm/attachment"
	"github.com/patrickascher/dotorm/auth"
	"github.com/patrickascher/dotorm/cache"
	_ "github.com/patrickascher/dotorm/cache/memory"
	"github.com/patrickascher/dotorm/chat"
	"github.com/patrickascher/dotorm/logger"
	lr "github.com/patrickascher/dotorm/logger/logrus"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	_ "github.com/patrickascher/dotorm/query/mysql"
	_ "github.com/patrickascher/dotorm/query/postgres"
	"github.com/patrickascher/dotorm/rest"
	"github.com/patrickascher/dotorm/schema"
	"github.com/patrickascher/dotorm/settings"
	"github.com/rs/cors"
)

// Error messages
var (
	ErrInit = errors.New("server: is not loaded")
)

// loggerName of the application logger.
const loggerName = "app"

// Server wires all parts of the application.
type Server struct {
	cfg      Configuration
	logger   logger.Manager
	cache    cache.Manager
	pool     *query.Pool
	registry *orm.Registry
	schemas  *schema.Registry
	settings *settings.Manager
	token    *auth.Token
	rest     *rest.Server
	http     *http.Server
}

// New boots a server out of the configuration.
func New(cfg Configuration) (*Server, error) {
	s := &Server{cfg: cfg}

	if err := s.initLogger(); err != nil {
		return nil, err
	}
	if err := s.initCache(); err != nil {
		return nil, err
	}
	if err := s.initDatabase(); err != nil {
		return nil, err
	}
	if err := s.initModels(); err != nil {
		return nil, err
	}
	if err := s.initRest(); err != nil {
		return nil, err
	}
	return s, nil
}

// initLogger registers the logrus provider once and configures the level.
func (s *Server) initLogger() error {
	manager, err := logger.Get(loggerName)
	if err != nil {
		if err = logger.Register(loggerName, lr.New()); err != nil {
			return err
		}
		manager, err = logger.Get(loggerName)
		if err != nil {
			return err
		}
	}
	s.logger = manager
	switch s.cfg.Logger.Level {
	case "trace":
		s.logger.SetLogLevel(logger.TRACE)
	case "debug":
		s.logger.SetLogLevel(logger.DEBUG)
	case "warning":
		s.logger.SetLogLevel(logger.WARNING)
	case "error":
		s.logger.SetLogLevel(logger.ERROR)
	default:
		s.logger.SetLogLevel(logger.INFO)
	}
	return nil
}

// initCache creates the configured cache provider.
func (s *Server) initCache() error {
	var err error
	s.cache, err = cache.New(s.cfg.Cache.Provider, nil)
	return err
}

// initDatabase opens the pool.
func (s *Server) initDatabase() error {
	pool, err := query.Open(s.cfg.Database)
	if err != nil {
		return err
	}
	pool.SetLogger(s.logger)
	s.pool = pool
	return nil
}

// initModels registers the built-in models, applies the announced extensions and
// migrates the schema.
func (s *Server) initModels() error {
	s.registry = orm.New(s.pool)
	for _, register := range []func(*orm.Registry) error{
		auth.Register,
		attachment.Register,
		chat.Register,
		settings.Register,
	} {
		if err := register(s.registry); err != nil {
			return err
		}
	}
	if err := s.registry.LoadAnnounced(); err != nil {
		return err
	}
	if err := orm.Migrate(context.Background(), s.registry); err != nil {
		return err
	}

	s.schemas = schema.New(s.registry, s.cache)
	s.settings = settings.New(s.registry, s.cache)
	s.settings.SetLogger(s.logger)
	return nil
}

// initRest creates the token guard and mounts the model routers behind CORS.
func (s *Server) initRest() error {
	token, err := auth.NewToken(s.cfg.Token)
	if err != nil {
		return err
	}
	s.token = token

	s.rest, err = rest.New(s.registry, s.schemas,
		rest.WithGuard(token),
		rest.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   s.cfg.Server.CORS.AllowedMethods,
		AllowedHeaders:   s.cfg.Server.CORS.AllowedHeaders,
		AllowCredentials: s.cfg.Server.CORS.AllowCredentials,
	})
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:           c.Handler(s.rest),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Registry of the server models.
func (s *Server) Registry() *orm.Registry {
	return s.registry
}

// Settings manager of the server.
func (s *Server) Settings() *settings.Manager {
	return s.settings
}

// Token generator of the server.
func (s *Server) Token() *auth.Token {
	return s.token
}

// Rest server behind the guard.
func (s *Server) Rest() *rest.Server {
	return s.rest
}

// Start serves HTTP until the context or the listener dies.
func (s *Server) Start() error {
	if s.http == nil {
		return ErrInit
	}
	s.logger.WithFields(logger.Fields{"addr": s.http.Addr}).Info("server: listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the webserver and the pool down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return ErrInit
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	return s.pool.Close()
}
