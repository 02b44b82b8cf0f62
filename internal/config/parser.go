package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates chainboot.lua with the platform table injected.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: logging.Noop()}
}

// WithLogger returns the parser with logger attached.
func (p *Parser) WithLogger(logger logging.Logger) *Parser {
	p.logger = logging.OrNoop(logger)
	return p
}

// ParseString parses a Lua config held in memory. Fields the config does
// not set keep their Default values.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if len(luaCode) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(luaCode), MaxConfigSize),
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	L.SetContext(ctx)
	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("config evaluation aborted: %w", ctxErr)
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("config parsed",
		"fallback", cfg.Servers.Fallback,
		"default", cfg.Servers.Default,
		"installers", len(cfg.Runtime.Installers))
	return cfg, nil
}

// LoadFile parses the config at path, resolves the keyring relative to the
// file's directory and applies environment overrides. A missing file yields
// Default with overrides applied.
func (p *Parser) LoadFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	var cfg *Config
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.logger.Info("no config file, using defaults", "path", path)
		cfg = Default()
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		cfg, err = p.ParseString(ctx, string(data))
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if k := cfg.Trust.Keyring; k != "" && !filepath.IsAbs(k) {
		cfg.Trust.Keyring = filepath.Join(filepath.Dir(path), k)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides and revalidates.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(BootstrapServerEnv)); v != "" {
		c.Servers.Fallback = v
	}
	return c.Validate()
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global chainboot table over a Default config.
func extractConfig(L *lua.LState) (*Config, error) {
	root := L.GetGlobal(luaGlobalChainboot)
	if root.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobalChainboot),
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)
	cfg := Default()
	r := &reader{}

	if t := r.table(table, luaFieldServers, luaFieldServers); t != nil {
		r.str(t, luaFieldFallback, "servers.fallback", &cfg.Servers.Fallback)
		r.str(t, luaFieldDefault, "servers.default", &cfg.Servers.Default)
	}

	if t := r.table(table, luaFieldTrust, luaFieldTrust); t != nil {
		r.str(t, luaFieldKeyring, "trust.keyring", &cfg.Trust.Keyring)
		r.boolean(t, luaFieldAuthentic, "trust.authenticode", &cfg.Trust.Authenticode)
	}

	if t := r.table(table, luaFieldTransfer, luaFieldTransfer); t != nil {
		r.integer(t, luaFieldConnectMS, "transfer.connect_timeout_ms", &cfg.Transfer.ConnectTimeoutMS)
		r.integer(t, luaFieldIOMS, "transfer.io_timeout_ms", &cfg.Transfer.IOTimeoutMS)
	}

	if t := r.table(table, luaFieldSupervisor, luaFieldSupervisor); t != nil {
		s := &cfg.Supervisor
		r.integer(t, luaFieldPollMS, "supervisor.poll_interval_ms", &s.PollIntervalMS)
		r.integer(t, luaFieldDivisor, "supervisor.download_divisor", &s.DownloadDivisor)
		r.str(t, luaFieldPipeFlag, "supervisor.pipe_flag", &s.PipeFlag)
		r.boolean(t, luaFieldTrustResult, "supervisor.trust_partial_result", &s.TrustPartialResult)
		if args := r.table(t, luaFieldArgs, "supervisor.args"); args != nil {
			s.Args = extractStrings(args)
		}
	}

	r.str(table, luaFieldResources, luaFieldResources, &cfg.Resources)

	if t := r.table(table, luaFieldRuntime, luaFieldRuntime); t != nil {
		if list := r.table(t, luaFieldInstallers, "runtime.installers"); list != nil {
			cfg.Runtime.Installers = r.installers(list)
		}
		if probe := r.table(t, luaFieldProbe, "runtime.probe"); probe != nil {
			cfg.Runtime.Probe = Probe{}
			r.str(probe, luaFieldPath, "runtime.probe.path", &cfg.Runtime.Probe.Path)
			r.str(probe, luaFieldRegistry, "runtime.probe.registry", &cfg.Runtime.Probe.Registry)
		}
	}

	r.str(table, luaFieldSecondStage, luaFieldSecondStage, &cfg.SecondStage)
	r.str(table, luaFieldHelpURL, luaFieldHelpURL, &cfg.HelpURL)

	if t := r.table(table, luaFieldLog, luaFieldLog); t != nil {
		r.str(t, luaFieldLevel, "log.level", &cfg.Log.Level)
		r.str(t, luaFieldFile, "log.file", &cfg.Log.File)
	}

	if r.err != nil {
		return nil, &ParseError{Message: "config validation failed", Detail: r.err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}
	return cfg, nil
}

// reader copies typed fields out of Lua tables, keeping the first type
// mismatch. Absent (nil) fields leave the destination untouched.
type reader struct {
	err error
}

func (r *reader) mismatch(field, want string, got lua.LValue) {
	if r.err == nil {
		r.err = &ValidationError{Field: field, Message: fmt.Sprintf("expected %s, got %s", want, got.Type())}
	}
}

func (r *reader) table(t *lua.LTable, key, field string) *lua.LTable {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
		return nil
	case lua.LTTable:
		return v.(*lua.LTable)
	}
	r.mismatch(field, "table", v)
	return nil
}

func (r *reader) str(t *lua.LTable, key, field string, dst *string) {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
	case lua.LTString:
		*dst = v.String()
	default:
		r.mismatch(field, "string", v)
	}
}

func (r *reader) integer(t *lua.LTable, key, field string, dst *int) {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n != float64(int(n)) {
			if r.err == nil {
				r.err = &ValidationError{Field: field, Message: fmt.Sprintf("expected integer, got %v", n)}
			}
			return
		}
		*dst = int(n)
	default:
		r.mismatch(field, "number", v)
	}
}

func (r *reader) boolean(t *lua.LTable, key, field string, dst *bool) {
	v := t.RawGetString(key)
	switch v.Type() {
	case lua.LTNil:
	case lua.LTBool:
		*dst = bool(v.(lua.LBool))
	default:
		r.mismatch(field, "boolean", v)
	}
}

// installers accepts bare names or {name=, server=} tables. nil entries from
// platform conditionals are skipped.
func (r *reader) installers(list *lua.LTable) []Installer {
	out := []Installer{}
	n := list.MaxN()
	for i := 1; i <= n; i++ {
		v := list.RawGetInt(i)
		field := fmt.Sprintf("runtime.installers[%d]", i-1)
		switch v.Type() {
		case lua.LTNil:
		case lua.LTString:
			out = append(out, Installer{Name: v.String()})
		case lua.LTTable:
			var inst Installer
			r.str(v.(*lua.LTable), luaFieldName, field+".name", &inst.Name)
			r.str(v.(*lua.LTable), luaFieldServer, field+".server", &inst.Server)
			out = append(out, inst)
		default:
			r.mismatch(field, "string or table", v)
		}
	}
	return out
}

// extractStrings returns the string elements of an array in order, skipping
// nil holes left by platform conditionals.
func extractStrings(list *lua.LTable) []string {
	out := []string{}
	n := list.MaxN()
	for i := 1; i <= n; i++ {
		if v := list.RawGetInt(i); v.Type() == lua.LTString {
			out = append(out, v.String())
		}
	}
	return out
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
