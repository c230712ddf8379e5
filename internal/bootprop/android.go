package bootprop

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/exec"
)

// AndroidSource reads and writes system properties via the Android
// getprop/setprop binaries — the Go replacement for the original's
// direct cutils/properties.h `property_get`/`property_set` calls.
type AndroidSource struct{}

var _ Source = AndroidSource{}

func (AndroidSource) Get(key, def string) string {
	res, err := exec.RunCaptured(context.Background(), "getprop", key)
	if err != nil || res.ExitCode != 0 {
		logrus.WithField("property", key).Debug("iago::bootprop - getprop failed, using default")
		return def
	}
	value := strings.TrimRight(res.Stdout, "\n")
	if value == "" {
		return def
	}
	return value
}

func (AndroidSource) Set(key, value string) error {
	_, err := exec.Run(context.Background(), "setprop", key, value)
	return err
}
