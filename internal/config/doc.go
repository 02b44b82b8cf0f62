// Package config loads, validates and generates chainboot.lua, the Lua
// configuration that tells the bootstrapper where to find resources, which
// signers to trust and how to supervise chained installers.
//
// # Overview
//
// Configuration is a single global table evaluated in a sandboxed gopher-lua
// VM. The read-only platform table is injected first, so a config can branch
// on the host:
//
//	chainboot = {
//	  servers = {
//	    fallback = platform.when(platform.is_linux, "https://mirror.example/linux/"),
//	    default  = "https://coapp.org/resources/",
//	  },
//	  trust = { keyring = "trusted-keys.asc", authenticode = true },
//	  supervisor = { args = { "/q", "/norestart" } },
//	}
//
// Missing sections keep the values from Default. Unknown keys are ignored.
//
// # Sandbox
//
// The os, io and debug libraries are removed, as are require, dofile,
// loadfile, load and loadstring. string, table and math stay available.
// Parsing is bounded by MaxConfigSize and, when ctx carries no deadline, by
// DefaultParseTimeout.
//
// # Environment
//
// CHAINBOOT_BOOTSTRAP_SERVER replaces servers.fallback after parsing. It is
// applied by LoadFile and by ApplyEnv.
package config
