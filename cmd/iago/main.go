// Command iago is the installer daemon: it registers the five pipeline
// plugins in spec §2's order (partitioner, imager, OTA stager, both
// bootloader variants, finalizer — exactly one bootloader variant ever
// claims `base:bootloader`) and runs them to completion.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/quanganh2627/platform-bootable-iago/internal/bootprop"
	"github.com/quanganh2627/platform-bootable-iago/internal/cliui"
	"github.com/quanganh2627/platform-bootable-iago/internal/config"
	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
	"github.com/quanganh2627/platform-bootable-iago/internal/plugins/bootloader"
	"github.com/quanganh2627/platform-bootable-iago/internal/plugins/finalizer"
	"github.com/quanganh2627/platform-bootable-iago/internal/plugins/imager"
	"github.com/quanganh2627/platform-bootable-iago/internal/plugins/ota"
	"github.com/quanganh2627/platform-bootable-iago/internal/plugins/partitioner"
)

var (
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	app := &cli.App{
		Name:  "iago",
		Usage: "Android-IA OS installer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Usage:       "debug, info, warning, error, fatal, panic",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Value:       "text",
				Usage:       "text or json",
				Destination: &logFormat,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "record base:dry_run=1 in the option store (no built-in plugin reads it; device writes still happen)",
				Destination: &dryRun,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("iago::main - fatal")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := setupLogging(); err != nil {
		return err
	}

	props := bootprop.AndroidSource{}
	if props.Get("ro.boot.iago.gui", "0") == "1" {
		return errors.New("iago::main - GUI mode was requested via ro.boot.iago.gui but is not implemented")
	}

	driver := pipeline.NewDriver(props)
	driver.Interactive = props.Get("ro.boot.iago.cli", "0") == "1"
	if driver.Interactive {
		driver.Stores.Options.Put("base:cli", "1")
	}

	if mediaDevice := props.Get("ro.iago.media", ""); mediaDevice != "" {
		driver.Stores.Options.Put("base:boot_device", mediaDevice)
	}
	if iniPaths := props.Get("ro.boot.iago.ini", ""); iniPaths != "" {
		if err := config.LoadInto(driver.Stores.Options, strings.Split(iniPaths, ",")); err != nil {
			return err
		}
	}

	if dryRun {
		// Recorded in the option store only; the pipeline has no opinion
		// on dry-run, and none of the built-in plugins reads base:dry_run,
		// so their device writes are not skipped.
		driver.Stores.Options.Put("base:dry_run", "1")
	}

	ctx := context.Background()
	driver.Register(partitioner.New(ctx))
	driver.Register(imager.New(ctx))
	driver.Register(ota.New(ctx))
	driver.Register(bootloader.NewEFI(ctx))
	driver.Register(bootloader.NewLegacy(ctx))
	driver.Register(finalizer.New(ctx))

	installAbortHandler()

	if err := driver.Run(); err != nil {
		pipeline.Exit(err)
		return nil
	}

	reboot(ctx, driver.Stores.Options.GetDefault("base:reboot_target", ""))
	pipeline.Exit(nil)
	return nil
}

// setupLogging mirrors hcsshim's gcs main.go: a text/json formatter
// switch plus a parsed level, adapted from flag.String globals to
// urfave/cli destinations.
func setupLogging() error {
	switch logFormat {
	case "text":
		// retain logrus's default.
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return errors.Errorf("iago::main - unknown log-format %q", logFormat)
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "iago::main - invalid log-level")
	}
	logrus.SetLevel(level)
	return nil
}

// installAbortHandler registers the SIGABRT handler spec §5 describes:
// best-effort unmount of any plugin-registered working directory before
// the process actually dies from the signal.
func installAbortHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGABRT)
	go func() {
		<-ch
		logrus.Warn("iago::main - SIGABRT received, unmounting registered working directories")
		cliui.UnmountAllRegistered()
		signal.Reset(syscall.SIGABRT)
		_ = syscall.Kill(os.Getpid(), syscall.SIGABRT)
	}()
}

// reboot invokes the platform reboot primitive with target, empty
// meaning a normal boot and "recovery" meaning the OTA stager ran
// (spec §6 "Reboot").
func reboot(ctx context.Context, target string) {
	args := []string{}
	if target != "" {
		args = append(args, target)
	}
	if _, err := exec.Run(ctx, "reboot", args...); err != nil {
		logrus.WithError(err).Error("iago::main - reboot invocation failed")
	}
}
