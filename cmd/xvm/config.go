// Copyright 2024 The go-xlang Authors
// This file is part of go-xlang.
//
// go-xlang is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-xlang is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-xlang. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	cli "gopkg.in/urfave/cli.v1"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// vmConfig configures one VM run.
type vmConfig struct {
	// EntrySignature selects the lambda to run from the package's table.
	EntrySignature string
	// DumpMode enables the crash snapshot of every live coroutine.
	DumpMode bool
	// Verbosity is the log level (0=crit .. 5=trace).
	Verbosity int
}

// xvmConfig is the top-level TOML config file schema.
type xvmConfig struct {
	VM vmConfig
}

func defaultConfig() xvmConfig {
	return xvmConfig{
		VM: vmConfig{
			EntrySignature: "__main__",
			Verbosity:      3,
		},
	}
}

func loadConfig(file string, cfg *xvmConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = fmt.Errorf("%v in file %s", err, file)
	}
	return err
}

// makeConfig merges the config file (when given) with command line flags.
func makeConfig(ctx *cli.Context) (xvmConfig, error) {
	cfg := defaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(entryFlag.Name) {
		cfg.VM.EntrySignature = ctx.GlobalString(entryFlag.Name)
	}
	if ctx.GlobalIsSet(dumpFlag.Name) {
		cfg.VM.DumpMode = ctx.GlobalBool(dumpFlag.Name)
	}
	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.VM.Verbosity = ctx.GlobalInt(verbosityFlag.Name)
	}
	return cfg, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
