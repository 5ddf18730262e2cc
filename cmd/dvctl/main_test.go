package main

import "testing"

func TestMigrateCmd_args(t *testing.T) {
	for _, args := range [][]string{nil, {"up"}, {"down"}, {"version"}} {
		if err := migrateCmd.Args(migrateCmd, args); err != nil {
			t.Errorf("args %v rejected: %v", args, err)
		}
	}
	for _, args := range [][]string{{"sideways"}, {"up", "down"}} {
		if err := migrateCmd.Args(migrateCmd, args); err == nil {
			t.Errorf("args %v accepted", args)
		}
	}
}

func TestRootCmd_registersCommands(t *testing.T) {
	want := []string{"create", "get", "list", "check", "reset", "delete", "sweep", "txt", "token", "migrate", "audit"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}
