package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// ViewLogs displays service logs using platform-appropriate tools.
func ViewLogs(opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch runtime.GOOS {
	case "linux":
		return viewLogsLinux(opts)
	case "darwin":
		return viewLogsDarwin(opts)
	default:
		return fmt.Errorf("log viewing not supported on %s", runtime.GOOS)
	}
}

// viewLogsLinux uses journalctl to view systemd service logs.
func viewLogsLinux(opts LogOptions) error {
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	return cmd.Run()
}

// viewLogsDarwin reads the log files launchd writes under /var/log.
func viewLogsDarwin(opts LogOptions) error {
	outLog := fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName)
	errLog := fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName)

	if opts.Follow {
		cmd := exec.Command("tail", "-f", outLog, errLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		return cmd.Run()
	}

	outExists := fileExists(outLog)
	errExists := fileExists(errLog)
	if !outExists && !errExists {
		fmt.Printf("No log files found for service %q\n", opts.ServiceName)
		return nil
	}

	if errExists {
		fmt.Println("=== Errors ===")
		cmd := exec.Command("tail", "-n", strconv.Itoa(opts.Lines), errLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
	}
	if outExists {
		if errExists {
			fmt.Println("\n=== Output ===")
		}
		cmd := exec.Command("tail", "-n", strconv.Itoa(opts.Lines), outLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
