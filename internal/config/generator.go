package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Generator writes a Config back out as chainboot.lua.
type Generator struct {
	indent string // Indentation string (default: two spaces)
	now    func() time.Time
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{
		indent: "  ",
		now:    time.Now,
	}
}

// Generate renders config as a complete, commented chainboot table. Every
// field is written so the file documents the effective values.
func (g *Generator) Generate(config *Config) (string, error) {
	if config == nil {
		return "", fmt.Errorf("generate config: nil config")
	}
	if err := config.Validate(); err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("-- chainboot configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(g.now().Format(time.RFC3339))
	buf.WriteString("\n--\n")
	buf.WriteString("-- The read-only `platform` table (os, arch, locale, is_windows, when, ...)\n")
	buf.WriteString("-- is available for conditional values.\n\n")

	buf.WriteString(luaGlobalChainboot + " = {\n")

	g.open(&buf, 1, luaFieldServers)
	g.field(&buf, 2, luaFieldFallback, g.quoteLuaString(config.Servers.Fallback))
	g.field(&buf, 2, luaFieldDefault, g.quoteLuaString(config.Servers.Default))
	g.close(&buf, 1, true)

	g.open(&buf, 1, luaFieldTrust)
	g.field(&buf, 2, luaFieldKeyring, g.quoteLuaString(config.Trust.Keyring))
	g.field(&buf, 2, luaFieldAuthentic, fmt.Sprint(config.Trust.Authenticode))
	g.close(&buf, 1, true)

	g.open(&buf, 1, luaFieldTransfer)
	g.field(&buf, 2, luaFieldConnectMS, fmt.Sprint(config.Transfer.ConnectTimeoutMS))
	g.field(&buf, 2, luaFieldIOMS, fmt.Sprint(config.Transfer.IOTimeoutMS))
	g.close(&buf, 1, true)

	s := config.Supervisor
	g.open(&buf, 1, luaFieldSupervisor)
	g.field(&buf, 2, luaFieldPollMS, fmt.Sprint(s.PollIntervalMS))
	g.field(&buf, 2, luaFieldDivisor, fmt.Sprint(s.DownloadDivisor))
	g.field(&buf, 2, luaFieldPipeFlag, g.quoteLuaString(s.PipeFlag))
	g.field(&buf, 2, luaFieldArgs, g.stringList(s.Args))
	g.field(&buf, 2, luaFieldTrustResult, fmt.Sprint(s.TrustPartialResult))
	g.close(&buf, 1, true)

	g.field(&buf, 1, luaFieldResources, g.quoteLuaString(config.Resources))
	buf.WriteString("\n")

	g.open(&buf, 1, luaFieldRuntime)
	g.open(&buf, 2, luaFieldInstallers)
	for _, inst := range config.Runtime.Installers {
		g.line(&buf, 3, g.installer(inst)+",")
	}
	g.close(&buf, 2, false)
	g.open(&buf, 2, luaFieldProbe)
	g.field(&buf, 3, luaFieldPath, g.quoteLuaString(config.Runtime.Probe.Path))
	g.field(&buf, 3, luaFieldRegistry, g.quoteLuaString(config.Runtime.Probe.Registry))
	g.close(&buf, 2, false)
	g.close(&buf, 1, true)

	g.field(&buf, 1, luaFieldSecondStage, g.quoteLuaString(config.SecondStage))
	g.field(&buf, 1, luaFieldHelpURL, g.quoteLuaString(config.HelpURL))
	buf.WriteString("\n")

	g.open(&buf, 1, luaFieldLog)
	g.field(&buf, 2, luaFieldLevel, g.quoteLuaString(config.Log.Level))
	g.field(&buf, 2, luaFieldFile, g.quoteLuaString(config.Log.File))
	g.close(&buf, 1, false)

	buf.WriteString("}\n")
	return buf.String(), nil
}

func (g *Generator) line(buf *bytes.Buffer, depth int, s string) {
	buf.WriteString(strings.Repeat(g.indent, depth))
	buf.WriteString(s)
	buf.WriteString("\n")
}

func (g *Generator) open(buf *bytes.Buffer, depth int, name string) {
	g.line(buf, depth, name+" = {")
}

func (g *Generator) close(buf *bytes.Buffer, depth int, blank bool) {
	g.line(buf, depth, "},")
	if blank {
		buf.WriteString("\n")
	}
}

func (g *Generator) field(buf *bytes.Buffer, depth int, name, value string) {
	g.line(buf, depth, name+" = "+value+",")
}

func (g *Generator) stringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = g.quoteLuaString(s)
	}
	return "{ " + strings.Join(quoted, ", ") + " }"
}

func (g *Generator) installer(inst Installer) string {
	if inst.Server == "" {
		return g.quoteLuaString(inst.Name)
	}
	return fmt.Sprintf("{ %s = %s, %s = %s }",
		luaFieldName, g.quoteLuaString(inst.Name),
		luaFieldServer, g.quoteLuaString(inst.Server))
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\") // Escape backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
