package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chocopy-tools/chocogen"
)

// main.go is a thin cobra front end (saferwall-pe's declared CLI
// dependency) over the two library entry points driver.go exposes,
// replacing the teacher's hand-rolled cli.go/flag parsing with a
// structured obj/build subcommand pair. Real use of this backend is as a
// library called by a compiler frontend that owns the actual program
// tree and Chunk Producer (spec §1's "deliberately out of scope"); this
// CLI exercises the backend end to end against a small synthetic program
// (demoProducer, demo.go) standing in for that frontend during manual
// testing and development.

var (
	platformFlag string
	outFlag      string
	sourceFlag   string
	noLinkFlag   bool
	staticFlag   bool
	verboseFlag  bool
)

func main() {
	root := &cobra.Command{
		Use:   "chocogen",
		Short: "code generation backend for the chocopy-tools compiler",
	}

	objCmd := &cobra.Command{
		Use:   "obj",
		Short: "generate a relocatable object file",
		RunE:  runObj,
	}
	objCmd.Flags().StringVar(&platformFlag, "platform", "linux", "target platform: windows|linux|macos")
	objCmd.Flags().StringVar(&outFlag, "out", "a.o", "output object path")
	objCmd.Flags().StringVar(&sourceFlag, "source", "demo.py", "source path recorded in debug info")
	objCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "log each driver stage to stderr")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "generate an object file and link an executable",
		RunE:  runBuild,
	}
	buildCmd.Flags().StringVar(&platformFlag, "platform", "linux", "target platform: windows|linux|macos")
	buildCmd.Flags().StringVar(&outFlag, "out", "a.out", "output executable path")
	buildCmd.Flags().StringVar(&sourceFlag, "source", "demo.py", "source path recorded in debug info")
	buildCmd.Flags().BoolVar(&noLinkFlag, "no-link", false, "stop after writing the object file")
	buildCmd.Flags().BoolVar(&staticFlag, "static", false, "prefer static linkage")
	buildCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "log each driver stage to stderr")

	root.AddCommand(objCmd, buildCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runObj(cmd *cobra.Command, args []string) error {
	platform, err := chocogen.ParsePlatform(platformFlag)
	if err != nil {
		return err
	}
	d := chocogen.NewDriver()
	if cmd.Flags().Changed("verbose") {
		d.Verbose = verboseFlag
	}
	return d.GenObject(sourceFlag, demoProducer{}, outFlag, platform)
}

func runBuild(cmd *cobra.Command, args []string) error {
	platform, err := chocogen.ParsePlatform(platformFlag)
	if err != nil {
		return err
	}
	d := chocogen.NewDriver()
	if cmd.Flags().Changed("verbose") {
		d.Verbose = verboseFlag
	}
	return d.GenObjectOrExecutable(sourceFlag, demoProducer{}, outFlag, noLinkFlag, staticFlag, platform)
}
