package main

import "testing"

func TestBuildRootCmdHasServeSubcommand(t *testing.T) {
	root := buildRootCmd()
	cmd, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Find(serve): %v", err)
	}
	if cmd.Use != "serve" {
		t.Fatalf("cmd.Use = %q, want serve", cmd.Use)
	}
}
