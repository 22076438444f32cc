// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"mineskin.org/mineskin"
	"mineskin.org/mineskin/mineskindb"
)

// Config is the runnable configuration: the peer config plus the database
// connection.
type Config struct {
	Database string `help:"mongodb connection string" default:"mongodb://localhost/mineskin"`

	mineskin.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "mineskin",
		Short: "Skin generation service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the skin generation service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg   Config
	setupCfg Config

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("mineskin", "generator")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for mineskin configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := mineskindb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error connecting to database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.EnsureSchema(ctx); err != nil {
		return errs.New("error ensuring schema: %+v", err)
	}

	peer, err := mineskin.New(log, db, runCfg.Config)
	if err != nil {
		return err
	}

	runErr := peer.Run(ctx)
	closeErr := peer.Close()
	return errs.Combine(runErr, closeErr)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("configuration already exists (%v)", setupDir)
	}

	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func main() {
	process.Exec(rootCmd)
}
