package main

import (
	"testing"

	"github.com/charlie0129/freqclamp/pkg/policy"
)

func TestParseFrequencyArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    policy.Frequency
		wantErr bool
	}{
		{name: "valid", args: []string{"500000"}, want: 500000},
		{name: "zero", args: []string{"0"}, want: 0},
		{name: "no args", args: nil, wantErr: true},
		{name: "too many", args: []string{"1", "2"}, wantErr: true},
		{name: "negative", args: []string{"-1"}, wantErr: true},
		{name: "not a number", args: []string{"fast"}, wantErr: true},
		{name: "overflow", args: []string{"4294967296"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFrequencyArg(tt.args, "frequency")
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFrequencyArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFrequencyArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	cmd := NewCommand()
	for _, name := range []string{"daemon", "version", "enable", "disable", "min", "max", "set", "status", "history", "watch", "resync", "install", "uninstall"} {
		c, _, err := cmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
