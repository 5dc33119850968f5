package main

import (
	"context"
	"testing"

	"github.com/privatix/dapp-installer/lib/provision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"build", "vpn", "common", "reset"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	for _, flag := range []string{"test", "gui"} {
		assert.NotNil(t, root.Flags().Lookup(flag), flag)
	}
}

func TestServiceCommandArgs(t *testing.T) {
	root := newRootCommand()
	vpn, _, err := root.Find([]string{"vpn"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "start", args: []string{"start"}},
		{name: "stop", args: []string{"stop"}},
		{name: "restart", args: []string{"restart"}},
		{name: "unknown action", args: []string{"reload"}, wantErr: true},
		{name: "missing action", args: nil, wantErr: true},
		{name: "extra args", args: []string{"start", "now"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vpn.Args(vpn, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunUsageErrorExitCode(t *testing.T) {
	code := run(context.Background(), []string{"vpn", "reload"})
	assert.Equal(t, provision.CodeHostCommand, code)
}
