package main

import (
	"os"

	"qubix-server/confs"

	"github.com/joho/godotenv"
)

func main() {
	// a local .env counts as part of the environment being checked
	_ = godotenv.Load()

	report := confs.CheckEnv(os.LookupEnv)
	report.Write(os.Stdout)
	if !report.OK() {
		os.Exit(1)
	}
}
