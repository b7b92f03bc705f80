package main

import (
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

type gpu struct {
	Model  string
	VramGB float64
}

// detectGPUs asks nvidia-smi for the installed cards.
func detectGPUs() ([]gpu, error) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi not available: %w", err)
	}
	return parseGPUs(string(out)), nil
}

// parseGPUs reads "name, memory MiB" lines as printed by nvidia-smi csv output.
func parseGPUs(output string) []gpu {
	var gpus []gpu
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			gpus = append(gpus, gpu{Model: line})
			continue
		}
		name := strings.TrimSpace(line[:idx])
		mem := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[idx+1:]), "MiB"))
		mib, err := strconv.ParseFloat(strings.TrimSpace(mem), 64)
		if err != nil {
			gpus = append(gpus, gpu{Model: name})
			continue
		}
		gpus = append(gpus, gpu{Model: name, VramGB: math.Round(mib / 1024)})
	}
	return gpus
}
