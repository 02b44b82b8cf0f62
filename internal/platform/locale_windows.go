//go:build windows

package platform

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const localeNameMaxLength = 85

var procGetUserDefaultLocaleName = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetUserDefaultLocaleName")

// systemLocale asks Windows for the user default locale name ("de-DE").
func systemLocale() string {
	if err := procGetUserDefaultLocaleName.Find(); err != nil {
		return ""
	}
	buf := make([]uint16, localeNameMaxLength)
	r, _, _ := procGetUserDefaultLocaleName.Call(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if r == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}
