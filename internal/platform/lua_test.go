package platform

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestInjectPlatformTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{
		OS:       "linux",
		Arch:     "amd64",
		ArchRaw:  "amd64",
		Platform: "ubuntu",
		Family:   FamilyDebian,
		Version:  "24.04",
		Locale:   "de-DE",
	}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want lua.LValue
	}{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("amd64")},
		{"name", `return platform.name`, lua.LString("ubuntu")},
		{"version", `return platform.version`, lua.LString("24.04")},
		{"locale", `return platform.locale`, lua.LString("de-DE")},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_windows", `return platform.is_windows`, lua.LFalse},
		{"linux_family", `return platform.linux_family`, lua.LString("debian")},
		{"when true", `return platform.when(platform.is_linux, "x")`, lua.LString("x")},
		{"when false", `return platform.when(platform.is_windows, "x")`, lua.LNil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("DoString: %v", err)
			}
			got := L.Get(-1)
			L.Pop(1)
			if got != tt.want {
				t.Errorf("%s = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := InjectPlatformTable(L, &Info{OS: "windows", Arch: "amd64"}); err != nil {
		t.Fatal(err)
	}

	for _, code := range []string{
		`platform.os = "linux"`,
		`platform.extra = true`,
		`setmetatable(platform, {})`,
	} {
		err := L.DoString(code)
		if err == nil {
			t.Errorf("%s should fail", code)
			continue
		}
		if !strings.Contains(err.Error(), "read-only") && !strings.Contains(err.Error(), "protected") {
			t.Errorf("%s: unexpected error %v", code, err)
		}
	}

	if err := L.DoString(`assert(platform.linux_family == nil)`); err != nil {
		t.Errorf("linux_family should be nil off Linux: %v", err)
	}
}
