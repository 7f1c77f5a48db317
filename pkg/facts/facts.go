// Package facts gathers login node information.
package facts

import (
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Runner executes one command and returns raw output. *executor.Session implements it.
type Runner interface {
	Exec(cmd command.Command) (string, error)
}

// Gather collects facts over a single session. Individual probes that fail on
// the remote side are skipped; a transport error aborts gathering.
func Gather(r Runner) (map[string]any, error) {
	facts := make(map[string]any)

	osType, err := probe(r, command.New("uname", "-s"))
	if err != nil {
		return nil, err
	}
	facts["os_type"] = osType

	if osType == "Linux" {
		out, err := r.Exec(command.New("cat", "/etc/os-release"))
		if err != nil {
			return nil, err
		}
		stdout, _ := result.SplitStderr(out)
		osRelease := parseOSRelease(stdout)
		if id, ok := osRelease["ID"]; ok {
			facts["distribution"] = id
		}
		if version, ok := osRelease["VERSION_ID"]; ok {
			facts["distribution_version"] = version
		}
		if name, ok := osRelease["PRETTY_NAME"]; ok {
			facts["os_name"] = name
		}
		facts["os_family"] = osFamily(osRelease["ID"], osRelease["ID_LIKE"])
	}

	if arch, err := probe(r, command.New("uname", "-m")); err != nil {
		return nil, err
	} else if arch != "" {
		facts["architecture"] = arch
		facts["arch"] = normalizeArch(arch)
	}

	probes := []struct {
		key string
		cmd command.Command
	}{
		{"kernel", command.New("uname", "-r")},
		{"hostname", command.New("hostname")},
		{"user", command.New("whoami")},
		{"slurm_version", command.New("sinfo", "--version")},
		{"multiplexer", command.Script("command -v parallel-ssh || true")},
	}

	for _, p := range probes {
		v, err := probe(r, p.cmd)
		if err != nil {
			return nil, err
		}
		if v != "" {
			facts[p.key] = v
		}
	}

	return facts, nil
}

// probe runs cmd and returns trimmed stdout, or "" if the command wrote to stderr.
func probe(r Runner, cmd command.Command) (string, error) {
	out, err := r.Exec(cmd)
	if err != nil {
		return "", err
	}
	stdout, stderr := result.SplitStderr(out)
	if strings.TrimSpace(stderr) != "" {
		return "", nil
	}
	return strings.TrimSpace(stdout), nil
}

// parseOSRelease parses /etc/os-release format.
func parseOSRelease(content string) map[string]string {
	parsed := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			parsed[key] = value
		}
	}
	return parsed
}

// osFamily maps a distribution ID to its family.
func osFamily(id, idLike string) string {
	switch id {
	case "ubuntu", "debian":
		return "Debian"
	case "rhel", "centos", "rocky", "almalinux", "fedora", "ol":
		return "RedHat"
	case "sles", "opensuse", "opensuse-leap":
		return "Suse"
	}
	for _, like := range strings.Fields(idLike) {
		switch like {
		case "debian":
			return "Debian"
		case "rhel", "fedora":
			return "RedHat"
		case "suse":
			return "Suse"
		}
	}
	return "Linux"
}

// normalizeArch maps uname -m output to Go-style architecture names.
func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	default:
		return arch
	}
}
