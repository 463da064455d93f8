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

// xvm loads serialized XLang instruction packages and runs them on the
// bytecode virtual machine. The surface-language compiler is a separate tool;
// xvm only consumes .xbc files.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/xlang-project/go-xlang/lang/bytecode"
	"github.com/xlang-project/go-xlang/lang/vm"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	entryFlag = cli.StringFlag{
		Name:  "entry",
		Usage: "Entry signature in the package's function table",
		Value: "__main__",
	}
	dumpFlag = cli.BoolFlag{
		Name:  "dump",
		Usage: "Dump every live coroutine's context on uncaught errors",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}

	runCommand = cli.Command{
		Action:    runPackage,
		Name:      "run",
		Usage:     "Run a serialized instruction package",
		ArgsUsage: "<file.xbc>",
		Flags:     []cli.Flag{entryFlag, dumpFlag},
	}
	disasmCommand = cli.Command{
		Action:    disasmPackage,
		Name:      "disasm",
		Usage:     "Disassemble a serialized instruction package",
		ArgsUsage: "<file.xbc>",
	}
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		Description: "The dumpconfig command shows configuration values.",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "xvm"
	app.Usage = "the XLang bytecode virtual machine"
	app.Flags = []cli.Flag{configFileFlag, entryFlag, dumpFlag, verbosityFlag}
	app.Commands = []cli.Command{runCommand, disasmCommand, dumpConfigCommand}
	app.Before = func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
		handler := log.StreamHandler(os.Stderr, log.TerminalFormat(usecolor))
		log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(cfg.VM.Verbosity), handler))
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadArgPackage(ctx *cli.Context) (*bytecode.Package, error) {
	if ctx.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one package file argument")
	}
	return bytecode.OpenMapped(ctx.Args().First())
}

func runPackage(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet(entryFlag.Name) {
		cfg.VM.EntrySignature = ctx.String(entryFlag.Name)
	}
	if ctx.IsSet(dumpFlag.Name) {
		cfg.VM.DumpMode = ctx.Bool(dumpFlag.Name)
	}

	pkg, err := loadArgPackage(ctx)
	if err != nil {
		return err
	}
	if _, ok := pkg.EntryIP(cfg.VM.EntrySignature); !ok {
		return fmt.Errorf("package has no entry %q", cfg.VM.EntrySignature)
	}

	heap := vm.NewHeap()
	instructions := vm.NewInstructions(heap, pkg)
	defaults := vm.NewTuple(heap, nil)
	result := vm.NewNull(heap)
	entry := vm.NewLambda(heap, 0, cfg.VM.EntrySignature, defaults, nil, nil, vm.BytecodeBody(instructions), result, false)
	instructions.DropRef()
	defaults.DropRef()
	result.DropRef()

	pool := vm.NewCoroutinePool(cfg.VM.DumpMode)
	if _, err := pool.NewCoroutine(entry.CloneRef(), nil, heap); err != nil {
		entry.DropRef()
		return err
	}
	if err := pool.RunUntilFinished(heap); err != nil {
		entry.DropRef()
		return err
	}

	lambda := entry.Value().(*vm.Lambda)
	fmt.Println(vm.TryRepr(lambda.Result))
	entry.DropRef()
	return nil
}

func disasmPackage(ctx *cli.Context) error {
	pkg, err := loadArgPackage(ctx)
	if err != nil {
		return err
	}
	fmt.Print(bytecode.Disassemble(pkg))
	return nil
}
