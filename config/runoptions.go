package config

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/executor"
)

const redacted = "******"

// RunOptions are the keys of a run configuration that xmbench interprets.
// All other keys are passed to the driver untouched.
type RunOptions struct {
	RemoteMode       bool     `mapstructure:"remote_mode"`
	RemoteHost       string   `mapstructure:"remote_host"`
	RemotePort       int      `mapstructure:"remote_port"`
	RemoteUser       string   `mapstructure:"remote_user"`
	RemotePassword   string   `mapstructure:"remote_password"`
	RemoteKeyFile    string   `mapstructure:"remote_key_file"`
	NVMeList         []string `mapstructure:"nvme_list"`
	Telemetry        *bool    `mapstructure:"telemetry"`
	EstimatedSeconds float64  `mapstructure:"estimated_seconds"`
}

// DecodeRunOptions reads RunOptions from a run configuration. Values are
// weakly typed: "22" decodes as 22, "true" as true and "a,b" as a list.
func DecodeRunOptions(runConfig map[string]any) (*RunOptions, error) {
	var opts RunOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "decodeRunOptions", "failed to build decoder")
	}
	if err := dec.Decode(runConfig); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "decodeRunOptions", "invalid run configuration")
	}

	devices := opts.NVMeList[:0]
	for _, d := range opts.NVMeList {
		if d = strings.TrimSpace(d); d != "" {
			devices = append(devices, d)
		}
	}
	opts.NVMeList = devices
	opts.RemoteHost = strings.TrimSpace(opts.RemoteHost)
	opts.RemoteUser = strings.TrimSpace(opts.RemoteUser)
	return &opts, nil
}

// Target returns the execution target, validated.
func (o *RunOptions) Target() (executor.Target, error) {
	t := executor.Target{
		Remote:   o.RemoteMode,
		Host:     o.RemoteHost,
		Port:     o.RemotePort,
		User:     o.RemoteUser,
		Password: o.RemotePassword,
		KeyFile:  o.RemoteKeyFile,
	}
	return t, t.Validate()
}

// TelemetryEnabled applies the run's override to the supervisor default.
func (o *RunOptions) TelemetryEnabled(def bool) bool {
	if o.Telemetry == nil {
		return def
	}
	return *o.Telemetry
}

// Redact returns a copy of runConfig safe to log.
func Redact(runConfig map[string]any) map[string]any {
	out := make(map[string]any, len(runConfig))
	for k, v := range runConfig {
		if strings.Contains(strings.ToLower(k), "password") {
			if s, ok := v.(string); ok && s == "" {
				out[k] = s
				continue
			}
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}
