package main

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"disguise/browser"
	"disguise/probe"
	"disguise/profile"
	"disguise/sandbox"
	"disguise/stealth"
)

const verifyBinding = "__disguiseVerify"

// verifyPayload builds the payload from units, installs it into a fresh
// emulated page, probes it, installs it again and checks that nothing
// observable changed. Only checks for the given units are reported. The first
// install reports through a binding so failures surface as checks even when
// diagnostics are off.
func verifyPayload(ctx context.Context, prof profile.Profile, units []stealth.Unit, log *zap.SugaredLogger) (probe.Report, error) {
	diag, err := stealth.Build(prof, units, stealth.Options{Binding: verifyBinding})
	if err != nil {
		return probe.Report{}, err
	}
	plain, err := stealth.Build(prof, units, stealth.Options{})
	if err != nil {
		return probe.Report{}, err
	}

	h, err := sandbox.New(sandbox.WithNotificationPermission("denied"), sandbox.WithWebGL2())
	if err != nil {
		return probe.Report{}, fmt.Errorf("sandbox: %w", err)
	}

	var failures browser.Collector
	if err := browser.Install(ctx, h, diag, failures.Record, log); err != nil {
		return probe.Report{}, err
	}

	first, err := probe.Run(ctx, h, prof)
	if err != nil {
		return probe.Report{}, err
	}

	if _, err := h.Run(`if (window.chrome) { chrome.__verifyMarker = true; }`); err != nil {
		return probe.Report{}, fmt.Errorf("mark chrome namespace: %w", err)
	}
	if err := h.AddScript(ctx, plain.Script); err != nil {
		return probe.Report{}, fmt.Errorf("second install: %w", err)
	}

	second, err := probe.Run(ctx, h, prof)
	if err != nil {
		return probe.Report{}, err
	}
	marker, err := h.Run(`!window.chrome || chrome.__verifyMarker === true`)
	if err != nil {
		return probe.Report{}, fmt.Errorf("read chrome namespace: %w", err)
	}

	report := first.Only(diag.Units)
	report.Checks = append(report.Checks,
		probe.Check{
			Name: "clean install",
			Pass: len(failures.Failures()) == 0,
			Got:  fmt.Sprint(failures.Failures()),
			Want: "[]",
		},
		probe.Check{
			Name: "reinstall keeps fingerprint",
			Pass: reflect.DeepEqual(first.Fingerprint, second.Fingerprint),
			Got:  fmt.Sprintf("%+v", second.Fingerprint),
			Want: fmt.Sprintf("%+v", first.Fingerprint),
		},
		probe.Check{
			Name: "reinstall keeps chrome namespace",
			Pass: marker.ToBoolean(),
			Got:  marker.String(),
			Want: "true",
		},
	)
	return report, nil
}
