package skill

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"skillrun/internal/domain"
	"skillrun/internal/schema"
)

// NewSysInfo builds the system_info skill: a short report about the host
// process and machine. Takes no arguments.
func NewSysInfo() domain.Skill {
	return domain.Skill{
		Name:        "system_info",
		Description: "Report host and process information: hostname, OS, CPU cores, and process memory.",
		Params:      schema.Parameters{Props: map[string]schema.Param{}},
		Handler:     sysInfoHandler,
	}
}

func sysInfoHandler(ctx context.Context, args map[string]any) (string, error) {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := []string{
		fmt.Sprintf("Hostname: %s", hostname),
		fmt.Sprintf("OS: %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("Logical Cores: %d", runtime.NumCPU()),
		fmt.Sprintf("Go Version: %s", runtime.Version()),
		fmt.Sprintf("Goroutines: %d", runtime.NumGoroutine()),
		fmt.Sprintf("Process Alloc: %.1f MB", float64(mem.Alloc)/1024/1024),
		fmt.Sprintf("Process Sys: %.1f MB", float64(mem.Sys)/1024/1024),
		fmt.Sprintf("Working Dir: %s", cwd),
	}
	return strings.Join(info, "\n"), nil
}
