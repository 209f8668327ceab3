// SPDX-License-Identifier: MIT

package worker

import (
	"os"
	"strings"
)

// ContainerInfo records how a worker process detected it is running inside
// a container (spec.md §4.4: "advisory, not policy"). It only adjusts IPC
// path defaults; it never enforces sandboxing.
type ContainerInfo struct {
	Containerized bool
	Signals       []string
}

// DetectContainer inspects the well-known signals the source's workers
// check: /.dockerenv, cgroup membership, and common orchestrator env vars.
func DetectContainer() ContainerInfo {
	var signals []string

	if _, err := os.Stat("/.dockerenv"); err == nil {
		signals = append(signals, "/.dockerenv")
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		s := string(data)
		if strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd") {
			signals = append(signals, "cgroup")
		}
	}

	for _, ev := range []string{"KUBERNETES_SERVICE_HOST", "CONTAINER", "DOCKER_CONTAINER"} {
		if os.Getenv(ev) != "" {
			signals = append(signals, "env:"+ev)
		}
	}

	return ContainerInfo{Containerized: len(signals) > 0, Signals: signals}
}
