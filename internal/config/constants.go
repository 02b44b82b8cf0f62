package config

import "time"

// Lua schema field names and globals
const (
	luaGlobalChainboot = "chainboot"

	luaFieldServers     = "servers"
	luaFieldFallback    = "fallback"
	luaFieldDefault     = "default"
	luaFieldTrust       = "trust"
	luaFieldKeyring     = "keyring"
	luaFieldAuthentic   = "authenticode"
	luaFieldTransfer    = "transfer"
	luaFieldConnectMS   = "connect_timeout_ms"
	luaFieldIOMS        = "io_timeout_ms"
	luaFieldSupervisor  = "supervisor"
	luaFieldPollMS      = "poll_interval_ms"
	luaFieldDivisor     = "download_divisor"
	luaFieldPipeFlag    = "pipe_flag"
	luaFieldArgs        = "args"
	luaFieldTrustResult = "trust_partial_result"
	luaFieldResources   = "resources"
	luaFieldRuntime     = "runtime"
	luaFieldInstallers  = "installers"
	luaFieldName        = "name"
	luaFieldServer      = "server"
	luaFieldProbe       = "probe"
	luaFieldPath        = "path"
	luaFieldRegistry    = "registry"
	luaFieldSecondStage = "second_stage"
	luaFieldHelpURL     = "help_url"
	luaFieldLog         = "log"
	luaFieldLevel       = "level"
	luaFieldFile        = "file"
)

// Limits
const (
	MaxConfigSize       = 1 << 20
	MaxInstallerCount   = 64
	MaxArgCount         = 64
	DefaultParseTimeout = 5 * time.Second
)

// FileName is the conventional config file name.
const FileName = "chainboot.lua"

// BootstrapServerEnv overrides servers.fallback.
const BootstrapServerEnv = "CHAINBOOT_BOOTSTRAP_SERVER"
