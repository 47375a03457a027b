package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	cmd := Root()
	assert.Equal(t, "locationd", cmd.Use)

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "sync")
	assert.Contains(t, names, "version")
}

func TestSyncFlags(t *testing.T) {
	cmd := Sync()
	flags := cmd.Flags()

	for flag, def := range map[string]string{
		"interval":             "30",
		"once":                 "false",
		"port":                 "0",
		"verbose":              "false",
		"selector":             "device-type=phone",
		"concurrency":          "1",
		"kubeconfig":           "",
		"config":               "",
		"metrics-bind-address": "",
		"geocoder-url":         "",
	} {
		f := flags.Lookup(flag)
		require.NotNil(t, f, "missing flag --%s", flag)
		assert.Equal(t, def, f.DefValue, "default for --%s", flag)
	}
}
