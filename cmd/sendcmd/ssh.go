//go:build !nossh

package main

// Register the SSH connector.
import _ "github.com/eugenetaranov/sendcmd/internal/connector/ssh"
