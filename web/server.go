// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package web is the thin HTTP ingress over the generation engine.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/generator"
	"mineskin.org/mineskin/skinimage"
	"mineskin.org/mineskin/skins"
)

// Error is the default web errs class.
var Error = errs.Class("web")

// maxNameLength bounds user supplied skin names.
const maxNameLength = 24

// Config holds the ingress parameters.
type Config struct {
	Address string `help:"address to listen on" default:":7070"`
}

// Server exposes the three generation entry points over HTTP.
type Server struct {
	log      *zap.Logger
	service  *generator.Service
	pool     *accountpool.Pool
	listener net.Listener
	server   http.Server
}

// NewServer creates the ingress server.
func NewServer(log *zap.Logger, listener net.Listener, service *generator.Service, pool *accountpool.Pool, config Config) *Server {
	server := &Server{
		log:      log,
		service:  service,
		pool:     pool,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/generate/url", server.generateURL).Methods(http.MethodPost)
	router.HandleFunc("/generate/upload", server.generateUpload).Methods(http.MethodPost)
	router.HandleFunc("/generate/user/{uuid}", server.generateUser).Methods(http.MethodPost)
	router.HandleFunc("/health", server.health).Methods(http.MethodGet)
	server.server = http.Server{Handler: router}

	return server
}

// Run starts the server and stops it once the context is canceled.
func (server *Server) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes the server and underlying listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

func (server *Server) generateURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, info, ok := server.parseRequest(w, r)
	if !ok {
		return
	}
	url := r.FormValue("url")
	if url == "" {
		server.writeError(ctx, w, generator.ErrInvalidImageURL.New("missing url parameter"))
		return
	}

	skin, err := server.service.FromURL(ctx, url, opts, info)
	if err != nil {
		server.writeError(ctx, w, err)
		return
	}
	server.writeSkin(ctx, w, skin)
}

func (server *Server) generateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(2 * skinimage.MaxBytes); err != nil {
		server.writeError(ctx, w, skinimage.ErrInvalidImage.New("malformed multipart body"))
		return
	}
	opts, info, ok := server.parseRequest(w, r)
	if !ok {
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		server.writeError(ctx, w, skinimage.ErrInvalidImage.New("missing file"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, skinimage.MaxBytes+1))
	if err != nil {
		server.writeError(ctx, w, Error.Wrap(err))
		return
	}

	skin, err := server.service.FromUpload(ctx, data, opts, info)
	if err != nil {
		server.writeError(ctx, w, err)
		return
	}
	server.writeSkin(ctx, w, skin)
}

func (server *Server) generateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, info, ok := server.parseRequest(w, r)
	if !ok {
		return
	}

	skin, err := server.service.FromUser(ctx, mux.Vars(r)["uuid"], opts, info)
	if err != nil {
		server.writeError(ctx, w, err)
		return
	}
	server.writeSkin(ctx, w, skin)
}

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (server *Server) parseRequest(w http.ResponseWriter, r *http.Request) (generator.Options, generator.RequestInfo, bool) {
	name := strings.TrimSpace(r.FormValue("name"))
	if len(name) > maxNameLength {
		server.writeError(r.Context(), w, Error.New("name longer than %d characters", maxNameLength))
		return generator.Options{}, generator.RequestInfo{}, false
	}

	opts := generator.Options{
		Name:       name,
		Variant:    skins.ParseVariant(r.FormValue("variant")),
		Visibility: skins.ParseVisibility(r.FormValue("visibility")),
	}

	via := r.FormValue("via")
	if via == "" {
		via = "api"
	}
	info := generator.RequestInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Via:       via,
	}
	return opts, info, true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
